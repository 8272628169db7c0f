// Command phonofix corrects ASR transcripts against a knowledge base of
// domain terms by comparing how spans sound rather than how they are spelled.
//
// Usage:
//
//	phonofix correct "we deployed to cooper netties"
//	phonofix distance 张伟 章威
//	phonofix serve --config phonofix.yaml
//	phonofix mcp --config phonofix.yaml
//	phonofix kb compile terms.yaml terms.msgpack.zst
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrWong99/phonofix/internal/app"
	"github.com/MrWong99/phonofix/internal/config"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cli := newCLI(os.Stdin, os.Stdout, os.Stderr)
	root := cli.rootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "phonofix: %v\n", err)
		return 1
	}
	return 0
}

// cli carries the state shared by all subcommands.
type cli struct {
	in          io.Reader
	out, errOut io.Writer

	// newRegistry builds the transcriber registry. Tests replace it to
	// register mock transcribers.
	newRegistry func() *config.Registry

	configPath string
	logLevel   string
	level      *slog.LevelVar
	logClose   func() error
}

func newCLI(in io.Reader, out, errOut io.Writer) *cli {
	return &cli{
		in:     in,
		out:    out,
		errOut: errOut,
		newRegistry: func() *config.Registry {
			reg := config.NewRegistry()
			registerBuiltinProviders(reg)
			return reg
		},
		level: new(slog.LevelVar),
	}
}

// rootCmd assembles the command tree.
func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "phonofix",
		Short:         "Phonetic correction of ASR transcripts",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if c.logClose != nil {
				return c.logClose()
			}
			return nil
		},
	}
	root.SetIn(c.in)
	root.SetOut(c.out)
	root.SetErr(c.errOut)

	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "path to the YAML configuration file")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "override server.log_level (debug, info, warn, error)")

	root.AddCommand(
		c.correctCmd(),
		c.distanceCmd(),
		c.serveCmd(),
		c.mcpCmd(),
		c.kbCmd(),
	)
	return root
}

// loadConfig reads --config and installs the logger. Without --config the
// zero config is used: rules transcriber, default engine tuning and an empty
// knowledge base.
func (c *cli) loadConfig() (*config.Config, error) {
	cfg := &config.Config{}
	if c.configPath != "" {
		var err error
		cfg, err = config.Load(c.configPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("config file %q not found", c.configPath)
			}
			return nil, err
		}
	}
	if c.logLevel != "" {
		lvl := config.LogLevel(c.logLevel)
		if !lvl.IsValid() {
			return nil, fmt.Errorf("invalid --log-level %q; valid values: debug, info, warn, error", c.logLevel)
		}
		cfg.Server.LogLevel = lvl
	}

	logger, closeLog := newLogger(c.errOut, cfg.Server.LogLevel, cfg.Server.LogFile, c.level)
	slog.SetDefault(logger)
	c.logClose = closeLog
	return cfg, nil
}

// newApp loads the config and wires an [app.App] for one-shot commands.
// The caller must call Shutdown.
func (c *cli) newApp(ctx context.Context, cfg *config.Config, opts ...app.Option) (*app.App, error) {
	opts = append([]app.Option{
		app.WithVersion(version),
		app.WithLevelVar(c.level),
	}, opts...)
	return app.New(ctx, cfg, c.newRegistry(), opts...)
}
