package main

import (
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/lexiqai/tutor-client/internal/config"
	"github.com/lexiqai/tutor-client/internal/observability"
)

type rootOptions struct {
	backend  string
	server   string
	input    string
	logLevel string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "tutor",
		Short:         "Voice and chalkboard tutoring session client",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.backend, "backend", "", "Session backend: remote or selfhosted (overrides TUTOR_BACKEND)")
	rootCmd.PersistentFlags().StringVar(&opts.server, "server", "", "Tutor server WebSocket URL (overrides TUTOR_SERVER_URL)")
	rootCmd.PersistentFlags().StringVar(&opts.input, "input", "", "Pulse input source (overrides AUDIO_INPUT)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (overrides LOG_LEVEL)")

	rootCmd.AddCommand(newRunCommand(opts))
	rootCmd.AddCommand(newDevicesCommand(opts))

	return rootCmd
}

// loadConfig reads the environment, applies flag overrides and initializes
// logging. Pretty logs are used on a terminal unless LOG_PRETTY says otherwise.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	if o.backend != "" {
		os.Setenv("TUTOR_BACKEND", o.backend)
	}
	if o.server != "" {
		os.Setenv("TUTOR_SERVER_URL", o.server)
	}
	if o.input != "" {
		os.Setenv("AUDIO_INPUT", o.input)
	}
	if o.logLevel != "" {
		os.Setenv("LOG_LEVEL", o.logLevel)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	pretty := cfg.LogPretty
	if _, set := os.LookupEnv("LOG_PRETTY"); !set {
		pretty = isTerminal(os.Stderr)
	}
	observability.InitLogger(cfg.LogLevel, pretty)
	return cfg, nil
}

func isTerminal(file *os.File) bool {
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
