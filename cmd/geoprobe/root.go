package main

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type rootFlags struct {
	config string
	env    string
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "geoprobe",
		Short:         "Recurring probe scheduler and run tracker",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			// API keys usually come from .env; a missing file is fine.
			if err := godotenv.Load(f.env); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&f.config, "config", "./geoprobe.yaml", "path to config (yaml or json)")
	cmd.PersistentFlags().StringVar(&f.env, "env-file", ".env", "dotenv file loaded before the config")

	cmd.AddCommand(
		newServeCmd(f),
		newRunCmd(f),
		newCalendarCmd(f),
		newNextCmd(f),
	)
	return cmd
}
