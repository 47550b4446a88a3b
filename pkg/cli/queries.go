package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/stateaudit/pkg/audit"
)

func newListCommand(app *App) *Command {
	cmd := &Command{
		Name:        "list",
		Description: "List audit records",
		Flags:       app.flagSet("list"),
	}

	sortOrder := cmd.Flags.String("sort", "desc", "Sort order by id (asc or desc)")
	limit := cmd.Flags.Int("limit", 0, "Maximum number of records (0 for all)")
	offset := cmd.Flags.Int("offset", 0, "Number of records to skip")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *limit < 0 || *offset < 0 {
			return fmt.Errorf("limit and offset must not be negative")
		}

		return app.withBackend(ctx, func(adapter audit.Adapter) error {
			records, err := adapter.GetStates(ctx, audit.ListOptions{
				Sort:   audit.ParseSortOrder(*sortOrder),
				Limit:  *limit,
				Offset: *offset,
			})
			if err != nil {
				return err
			}
			return app.printRecords(records)
		})
	}
	return cmd
}

func newGetCommand(app *App) *Command {
	cmd := &Command{
		Name:        "get",
		Description: "Show one audit record",
		Flags:       app.flagSet("get"),
	}

	id := cmd.Flags.String("id", "", "Record id")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *id == "" {
			return fmt.Errorf("%w: id is required", audit.ErrMissingParameter)
		}

		return app.withBackend(ctx, func(adapter audit.Adapter) error {
			rec, err := adapter.GetStateByID(ctx, *id)
			if err != nil {
				return err
			}
			return app.printJSON(rec)
		})
	}
	return cmd
}

func newSnapshotCommand(app *App) *Command {
	cmd := &Command{
		Name:        "snapshot",
		Description: "Show the model state before (or after) a recorded change",
		Flags:       app.flagSet("snapshot"),
	}

	id := cmd.Flags.String("id", "", "Record id")
	post := cmd.Flags.Bool("post", false, "Show the state after the change")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *id == "" {
			return fmt.Errorf("%w: id is required", audit.ErrMissingParameter)
		}

		return app.withBackend(ctx, func(adapter audit.Adapter) error {
			snapshot, err := adapter.GetSnapshot(ctx, *id, *post)
			if err != nil {
				return err
			}
			return app.printJSON(snapshot)
		})
	}
	return cmd
}

func newModelCommand(app *App) *Command {
	cmd := &Command{
		Name:        "model",
		Description: "List the audit records of a model",
		Flags:       app.flagSet("model"),
	}

	model := cmd.Flags.String("model", "", "Model name")
	modelID := cmd.Flags.String("model-id", "", "Model instance id (all instances when empty)")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *model == "" {
			return fmt.Errorf("%w: model is required", audit.ErrMissingParameter)
		}

		return app.withBackend(ctx, func(adapter audit.Adapter) error {
			records, err := adapter.GetStateByModel(ctx, *model, *modelID)
			if err != nil {
				return err
			}
			return app.printRecords(records)
		})
	}
	return cmd
}

func newRangeCommand(app *App) *Command {
	cmd := &Command{
		Name:        "range",
		Description: "List audit records between two points in time",
		Flags:       app.flagSet("range"),
	}

	from := cmd.Flags.String("from", "", "Latest point, YYYY-MM-DD HH:MM:SS (or a date with -date)")
	backTo := cmd.Flags.String("back-to", "", "Earliest point (open ended when empty)")
	dates := cmd.Flags.Bool("date", false, "Interpret the bounds as whole days")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *from == "" {
			return fmt.Errorf("%w: from is required", audit.ErrMissingParameter)
		}

		var lower time.Time
		upper, err := parseTimestamp(*from)
		if !*dates && err != nil {
			return err
		}
		if !*dates && *backTo != "" {
			if lower, err = parseTimestamp(*backTo); err != nil {
				return err
			}
		}

		return app.withBackend(ctx, func(adapter audit.Adapter) error {
			var (
				records []*audit.Record
				err     error
			)
			if *dates {
				records, err = adapter.GetStateByDate(ctx, *from, *backTo)
			} else {
				records, err = adapter.GetStateByTimestamp(ctx, upper, lower)
			}
			if err != nil {
				return err
			}
			return app.printRecords(records)
		})
	}
	return cmd
}

func parseTimestamp(s string) (time.Time, error) {
	t, err := time.ParseInLocation(audit.TimestampLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp %q must look like %s", audit.ErrInvalidParameter, s, audit.TimestampLayout)
	}
	return t, nil
}
