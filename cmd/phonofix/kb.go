package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/phonofix/internal/config"
	"github.com/MrWong99/phonofix/internal/knowledge"
	"github.com/MrWong99/phonofix/internal/knowledge/postgres"
	"github.com/MrWong99/phonofix/internal/transcript"
	"github.com/MrWong99/phonofix/pkg/provider/g2p"
)

func (c *cli) kbCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kb",
		Short: "Manage knowledge bases",
	}
	cmd.AddCommand(c.kbCompileCmd(), c.kbImportCmd(), c.kbSimilarCmd())
	return cmd
}

// compile loads the knowledge file at path and precomputes representations
// with the configured transcriber.
func (c *cli) compile(ctx context.Context, cfg *config.Config, path, format string, workers int) ([]transcript.Entry, knowledge.CompileStats, error) {
	var zero knowledge.CompileStats
	f, err := knowledge.ParseFormat(format)
	if err != nil {
		return nil, zero, err
	}
	entries, err := knowledge.LoadFormat(path, f)
	if err != nil {
		return nil, zero, err
	}
	tr, err := c.newRegistry().CreateTranscriber(cfg.Transcriber)
	if err != nil {
		return nil, zero, err
	}
	compiled, stats, err := knowledge.Compile(ctx, tr, entries, workers)
	if err != nil {
		return nil, zero, err
	}
	slog.Info("knowledge compiled", "path", path, "compiled", stats.Compiled, "failed", stats.Failed)
	return compiled, stats, nil
}

func (c *cli) kbCompileCmd() *cobra.Command {
	var (
		format  string
		workers int
	)
	cmd := &cobra.Command{
		Use:   "compile <input> <output.msgpack.zst>",
		Short: "Precompute term representations into a snapshot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			entries, stats, err := c.compile(cmd.Context(), cfg, args[0], format, workers)
			if err != nil {
				return err
			}
			snap := &knowledge.Snapshot{
				Version:     knowledge.SnapshotVersion,
				Transcriber: cfg.Transcriber.ID(),
				Created:     time.Now().UTC(),
				Entries:     entries,
			}
			if err := knowledge.SaveSnapshot(args[1], snap); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "compiled %d terms (%d failed) with %s into %s\n",
				stats.Compiled, stats.Failed, snap.Transcriber, args[1])
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "input format, detected from the extension when empty")
	cmd.Flags().IntVar(&workers, "workers", runtime.GOMAXPROCS(0), "concurrent transcriptions")
	return cmd
}

func (c *cli) kbImportCmd() *cobra.Command {
	var (
		format  string
		dsn     string
		workers int
	)
	cmd := &cobra.Command{
		Use:   "import <input>",
		Short: "Import a knowledge file into the PostgreSQL term store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			store, err := c.openStore(cmd.Context(), cfg, dsn)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, _, err := c.compile(cmd.Context(), cfg, args[0], format, workers)
			if err != nil {
				return err
			}
			n, err := store.Upsert(cmd.Context(), entries)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d terms\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "input format, detected from the extension when empty")
	cmd.Flags().StringVar(&dsn, "dsn", "", "PostgreSQL DSN, overrides knowledge.postgres_dsn")
	cmd.Flags().IntVar(&workers, "workers", runtime.GOMAXPROCS(0), "concurrent transcriptions")
	return cmd
}

// similarResult is one line of `kb similar` output.
type similarResult struct {
	Canonical string  `json:"canonical"`
	Form      string  `json:"form,omitempty"`
	Score     float64 `json:"score"`
}

func (c *cli) kbSimilarCmd() *cobra.Command {
	var (
		k      int
		dsn    string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "similar <query>",
		Short: "List the terms that sound closest to a query",
		Long: `Similar ranks knowledge-base terms by phonetic distance to the query.

With a PostgreSQL DSN the term store is searched by feature centroid, which
is approximate. Otherwise every term of the configured knowledge base is
scored with the full distance calculator.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if k <= 0 {
				return errors.New("--limit must be positive")
			}
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if dsn == "" && cfg.Knowledge.Path == "" {
				dsn = cfg.Knowledge.PostgresDSN
			}

			var results []similarResult
			if dsn != "" {
				results, err = c.similarStore(cmd.Context(), cfg, dsn, args[0], k)
			} else {
				results, err = c.similarEngine(cmd.Context(), cfg, args[0], k)
			}
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if asJSON {
				return json.NewEncoder(w).Encode(results)
			}
			for _, r := range results {
				fmt.Fprintf(w, "%.4f\t%s\n", r.Score, r.Canonical)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&k, "limit", "k", 5, "number of terms to list")
	cmd.Flags().StringVar(&dsn, "dsn", "", "search the PostgreSQL term store at this DSN")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")
	return cmd
}

func (c *cli) similarEngine(ctx context.Context, cfg *config.Config, query string, k int) ([]similarResult, error) {
	a, err := c.newApp(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer a.Shutdown(ctx)

	sugg, err := a.Engine().Similar(ctx, query, k)
	if err != nil {
		return nil, err
	}
	out := make([]similarResult, len(sugg))
	for i, s := range sugg {
		out[i] = similarResult{Canonical: s.Entry.Canonical, Form: s.Form, Score: s.Score}
	}
	return out, nil
}

func (c *cli) similarStore(ctx context.Context, cfg *config.Config, dsn, query string, k int) ([]similarResult, error) {
	store, err := c.openStore(ctx, cfg, dsn)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	tr, err := c.newRegistry().CreateTranscriber(cfg.Transcriber)
	if err != nil {
		return nil, err
	}
	rep, err := tr.Transcribe(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("transcribe %q: %w", query, err)
	}
	matches, err := store.Nearest(ctx, rep, k)
	if err != nil {
		return nil, err
	}
	out := make([]similarResult, len(matches))
	for i, m := range matches {
		out[i] = similarResult{Canonical: m.Entry.Canonical, Score: m.Distance}
	}
	return out, nil
}

func (c *cli) openStore(ctx context.Context, cfg *config.Config, dsn string) (*postgres.Store, error) {
	if dsn == "" {
		dsn = cfg.Knowledge.PostgresDSN
	}
	if dsn == "" {
		return nil, errors.New("no PostgreSQL DSN: set --dsn or knowledge.postgres_dsn")
	}
	dims := cfg.Knowledge.Dimensions
	if dims == 0 {
		dims = len(g2p.DefaultInventory().FeatureNames())
	}
	return postgres.NewStore(ctx, dsn, dims)
}
