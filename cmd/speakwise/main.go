// Command speakwise is the pronunciation coach server and its companion
// command-line tools.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrWong99/speakwise/internal/config"
	"github.com/MrWong99/speakwise/pkg/types"
)

// version is overridden at link time with -ldflags "-X main.version=...".
var version = "dev"

// logLevel backs the default logger so a config reload can change verbosity
// without replacing the handler.
var logLevel = new(slog.LevelVar)

func main() {
	os.Exit(run())
}

func run() int {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "speakwise: %v\n", err)
		var te *types.Error
		if errors.As(err, &te) && te.Kind == types.KindInvalidArgument {
			return 2
		}
		return 1
	}
	return 0
}

// ── Commands ──────────────────────────────────────────────────────────────────

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "speakwise",
		Short:         "Pronunciation scoring and critique server",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "path to the YAML configuration file")

	root.AddCommand(
		newServeCmd(opts),
		newScoreCmd(opts),
		newPhonemizeCmd(opts),
		newCritiqueCmd(opts),
	)
	return root
}

// loadConfig reads the config file. A missing file is only an error when the
// user named it explicitly; otherwise the defaults apply.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("config") {
			slog.Debug("no config file; using defaults", "path", opts.configPath)
			return config.LoadFromReader(strings.NewReader(""))
		}
		return nil, err
	}
	setLogLevel(cfg.Server.LogLevel)
	return cfg, nil
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func setLogLevel(level config.LogLevel) {
	switch level {
	case config.LogDebug:
		logLevel.Set(slog.LevelDebug)
	case config.LogWarn:
		logLevel.Set(slog.LevelWarn)
	case config.LogError:
		logLevel.Set(slog.LevelError)
	default:
		logLevel.Set(slog.LevelInfo)
	}
}
