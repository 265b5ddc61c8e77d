package main

import (
	"fmt"

	"tunegrab/internal/consts"

	"github.com/spf13/cobra"
)

// globalFlags are shared by every sub-command.
type globalFlags struct {
	engine   string
	logLevel string
}

func (f *globalFlags) validate() error {
	switch f.engine {
	case consts.EngineYTdlp, consts.EngineMock:
		return nil
	}

	return fmt.Errorf("unknown engine %q, want %s or %s", f.engine, consts.EngineYTdlp, consts.EngineMock)
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:           "tunegrab",
		Short:         "YouTube audio and subtitles, delivered to chat",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return flags.validate()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&flags.engine, "engine", consts.EngineYTdlp, "Extraction engine: ytdlp or mock")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Override TUNEGRAB_APP_LOG_LEVEL")

	rootCmd.AddCommand(newBotCommand(flags))
	rootCmd.AddCommand(newFetchCommand(flags))
	rootCmd.AddCommand(newSubsCommand(flags))
	rootCmd.AddCommand(newFormatsCommand(flags))

	return rootCmd
}
