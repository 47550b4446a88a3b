// Package httputil holds the JSON response helpers, query parsing and
// middleware shared by the stateaudit HTTP service.
//
//	router.Use(httputil.RequestIDMiddleware, httputil.LoggingMiddleware(logger))
//	httputil.WriteSuccess(w, records)
//	httputil.WriteError(w, http.StatusNotFound, err)
package httputil
