// Package cli implements the stateaudit command line.
//
// Every command reads the backend from the STATEAUDIT_* configuration (see
// package config) and prints JSON to stdout.
//
//	stateaudit list -sort asc -limit 20
//	stateaudit get -id 42
//	stateaudit snapshot -id 42 -post
//	stateaudit model -model app.Post -model-id 3
//	stateaudit range -from "2024-03-10 18:00:00" -back-to "2024-03-10 09:00:00"
//	stateaudit range -date -from 2024-03-10
//	stateaudit export -format csv -from 2024-03-10 -output states.csv
//	stateaudit archive -from 2024-03-09 -back-to 2024-03-01
package cli
