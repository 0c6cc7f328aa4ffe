package main

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ysm446/sd-to-wan-prompt/internal/config"
)

// rootOptions carries the persistent flags and what PersistentPreRunE built
// from them.
type rootOptions struct {
	ConfigPath string
	LogLevel   string

	cfg config.Config
	log zerolog.Logger
	out io.Writer
}

func buildRootCmd() *cobra.Command {
	return buildRootCmdWith(&rootOptions{ConfigPath: os.Getenv("WANPROMPT_CONFIG"), out: os.Stdout})
}

// buildRootCmdWith constructs the command tree around opts so tests can
// inspect what the flags resolved to.
func buildRootCmdWith(opts *rootOptions) *cobra.Command {
	root := &cobra.Command{
		Use:           "wanpromptd",
		Short:         "Serve vision-language models that turn SD images into WAN 2.2 video prompts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.ConfigPath, "config", opts.ConfigPath, "Config file (.yaml, .yml, .json, .toml); defaults WANPROMPT_CONFIG")
	root.PersistentFlags().StringVar(&opts.LogLevel, "log-level", opts.LogLevel, "Log level: trace|debug|info|warn|error|disabled (overrides config)")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(opts.ConfigPath)
		if err != nil {
			return err
		}
		if opts.LogLevel != "" {
			cfg.Log.Level = opts.LogLevel
		}
		opts.cfg = cfg
		opts.log, err = newLogger(cfg.Log, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		if opts.out == nil {
			opts.out = cmd.OutOrStdout()
		}
		return nil
	}

	root.AddCommand(
		newServeCmd(opts),
		newPresetsCmd(opts),
		newDownloadCmd(opts),
		newArtifactsCmd(opts),
		newRescanCmd(opts),
		newDoctorCmd(opts),
		newMetadataCmd(opts),
	)
	return root
}

// newLogger builds the process logger from the log section.
func newLogger(c config.LogConfig, w io.Writer) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(c.Level)
	if err != nil {
		return zerolog.Logger{}, err
	}
	if c.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}

// splitCSV splits a comma separated flag value, dropping empty items.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
