package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/platinummonkey/stateaudit/pkg/audit"
)

func newExportCommand(app *App) *Command {
	cmd := &Command{
		Name:        "export",
		Description: "Export audit records as json, ndjson or csv",
		Flags:       app.flagSet("export"),
	}

	format := cmd.Flags.String("format", "json", "Output format (json, ndjson, csv)")
	from := cmd.Flags.String("from", "", "Latest date to export (all records when empty)")
	backTo := cmd.Flags.String("back-to", "", "Earliest date to export")
	output := cmd.Flags.String("output", "", "Write to this file instead of stdout")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		exportFormat, err := audit.ParseExportFormat(*format)
		if err != nil {
			return err
		}

		return app.withBackend(ctx, func(adapter audit.Adapter) error {
			var records []*audit.Record
			if *from != "" {
				records, err = adapter.GetStateByDate(ctx, *from, *backTo)
			} else {
				records, err = adapter.GetStates(ctx, audit.ListOptions{Sort: audit.SortAsc})
			}
			if err != nil {
				return err
			}

			data, err := audit.Export(records, exportFormat)
			if err != nil {
				return err
			}

			if *output == "" {
				_, err = app.Out.Write(data)
				return err
			}
			if err := os.WriteFile(*output, data, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", *output, err)
			}
			fmt.Fprintf(app.Err, "Exported %d records to %s\n", len(records), *output)
			return nil
		})
	}
	return cmd
}

func newArchiveCommand(app *App) *Command {
	cmd := &Command{
		Name:        "archive",
		Description: "Upload the records of a date window to the archive bucket",
		Flags:       app.flagSet("archive"),
	}

	from := cmd.Flags.String("from", "", "Latest date of the window")
	backTo := cmd.Flags.String("back-to", "", "Earliest date of the window (defaults to from)")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *from == "" {
			return fmt.Errorf("%w: from is required", audit.ErrMissingParameter)
		}
		if *backTo == "" {
			*backTo = *from
		}

		return app.withBackend(ctx, func(adapter audit.Adapter) error {
			archiver, err := app.NewArchiver(ctx, adapter)
			if err != nil {
				return err
			}
			result, err := archiver.Archive(ctx, *from, *backTo)
			if err != nil {
				return err
			}
			return app.printJSON(map[string]interface{}{
				"key":     result.Key,
				"records": result.Records,
				"bytes":   result.Bytes,
			})
		})
	}
	return cmd
}
