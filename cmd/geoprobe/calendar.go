package main

import (
	"fmt"
	"time"

	"geoprobe/internal/app"
	"geoprobe/internal/httpapi"
	"geoprobe/internal/schedule"

	"github.com/spf13/cobra"
)

func newCalendarCmd(f *rootFlags) *cobra.Command {
	var (
		from string
		days int
	)
	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "Print past runs merged with projected occurrences",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			if days < 1 || days > httpapi.MaxHorizonDays {
				return fmt.Errorf("--days must be between 1 and %d", httpapi.MaxHorizonDays)
			}
			a, err := app.NewApp(f.config, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			loc := a.Trigger().Location()
			now := time.Now().In(loc)
			start := now
			if from != "" {
				d, err := schedule.ParseDate(from)
				if err != nil {
					return err
				}
				start = d.In(loc)
			}
			r := a.Runner()
			proj := schedule.ProjectAt(r.Config(), r.History().Snapshot(), start, days, now)
			return writeJSON(schedule.SortedDays(proj))
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first date YYYY-MM-DD (default today)")
	cmd.Flags().IntVar(&days, "days", httpapi.DefaultHorizonDays, "horizon in days")
	return cmd
}

func newNextCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "next",
		Short: "Print the next scheduled time of each cadence",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			a, err := app.NewApp(f.config, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			cfg := a.Runner().Config()
			if !cfg.Enabled {
				return writeJSON(map[string]any{"enabled": false})
			}
			return writeJSON(schedule.NextAll(cfg, time.Now().In(a.Trigger().Location())))
		},
	}
}
