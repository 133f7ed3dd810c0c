package main

import (
	"encoding/json"
	"os"

	"geoprobe/internal/app"
	"geoprobe/internal/schedule"

	"github.com/spf13/cobra"
)

func newRunCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:       "run <daily|weekly|monthly>",
		Short:     "Run every active probe of a cadence once and print the record",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"daily", "weekly", "monthly"},
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := schedule.ParseCadence(args[0])
			if err != nil {
				return err
			}
			a, err := app.NewApp(f.config, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := a.RunOnce(cmd.Context(), c)
			if err != nil {
				return err
			}
			return writeJSON(rec)
		},
	}
}

func writeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
