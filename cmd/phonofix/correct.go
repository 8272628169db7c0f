package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/phonofix/internal/app"
	"github.com/MrWong99/phonofix/internal/transcript"
	"github.com/MrWong99/phonofix/pkg/phonetic/distance"
	"github.com/MrWong99/phonofix/pkg/types"
)

func (c *cli) correctCmd() *cobra.Command {
	var (
		asJSON    bool
		knowledge string
		terms     []string
	)
	cmd := &cobra.Command{
		Use:   "correct [text...]",
		Short: "Correct text against the knowledge base",
		Long: `Correct replaces spans that sound like a knowledge-base term with the term.

The arguments are joined into one transcript. Without arguments every line of
stdin is corrected separately.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if knowledge != "" {
				cfg.Knowledge.Path = knowledge
				cfg.Knowledge.PostgresDSN = ""
				cfg.Knowledge.Watch = false
			}
			var opts []app.Option
			if len(terms) > 0 {
				entries := make([]transcript.Entry, len(terms))
				for i, t := range terms {
					entries[i] = transcript.Entry{Canonical: t}
				}
				opts = append(opts, app.WithEntries(entries))
			}

			ctx := cmd.Context()
			a, err := c.newApp(ctx, cfg, opts...)
			if err != nil {
				return err
			}
			defer a.Shutdown(ctx)

			correct := func(text string) error {
				res, err := a.Engine().CorrectTranscript(ctx, types.Transcript{Text: text, IsFinal: true})
				if err != nil {
					return err
				}
				if asJSON {
					return json.NewEncoder(cmd.OutOrStdout()).Encode(res)
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), res.Corrected)
				return err
			}

			if len(args) > 0 {
				return correct(strings.Join(args, " "))
			}
			sc := bufio.NewScanner(cmd.InOrStdin())
			sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
			for sc.Scan() {
				if err := correct(sc.Text()); err != nil {
					return err
				}
			}
			return sc.Err()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the corrected transcript with every correction as JSON")
	cmd.Flags().StringVarP(&knowledge, "knowledge", "k", "", "knowledge file, overrides knowledge.path")
	cmd.Flags().StringSliceVarP(&terms, "term", "t", nil, "knowledge-base term, repeatable; replaces the configured knowledge base")
	return cmd
}

func (c *cli) distanceCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "distance <a> <b>",
		Short: "Print the phonetic distance between two texts",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := c.newApp(ctx, cfg, app.WithEntries(nil))
			if err != nil {
				return err
			}
			defer a.Shutdown(ctx)

			bd, err := a.Engine().Distance(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			if asJSON {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(bd)
			}
			return printBreakdown(cmd, bd)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the breakdown as JSON")
	return cmd
}

// printBreakdown writes the total followed by each component that
// contributed to it, tab separated.
func printBreakdown(cmd *cobra.Command, bd distance.Breakdown) error {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "total\t%.4f\n", bd.Total)
	for _, comp := range bd.Used {
		var v float64
		switch comp {
		case distance.ComponentSegment:
			v = bd.Segment
		case distance.ComponentFeature:
			v = bd.Feature
		case distance.ComponentTone:
			v = bd.Tone
		case distance.ComponentStress:
			v = bd.Stress
		}
		fmt.Fprintf(w, "%s\t%.4f\n", comp, v)
	}
	return nil
}
