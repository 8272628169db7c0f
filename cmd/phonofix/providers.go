package main

import (
	"log/slog"

	"github.com/MrWong99/phonofix/internal/config"
	"github.com/MrWong99/phonofix/pkg/phonetic"
	"github.com/MrWong99/phonofix/pkg/provider/g2p/metaphone"
	"github.com/MrWong99/phonofix/pkg/provider/g2p/rules"
)

// registerBuiltinProviders wires the transcriber backends that ship with
// phonofix into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// rules: embedded pinyin and English grapheme tables, with an optional
	// user lexicon ("lexicon": path to YAML).
	reg.RegisterTranscriber("rules", func(entry config.TranscriberConfig) (phonetic.Transcriber, error) {
		var opts []rules.Option
		if path := config.OptString(entry.Options, "lexicon"); path != "" {
			lex, err := rules.LoadLexicon(path)
			if err != nil {
				return nil, err
			}
			opts = append(opts, rules.WithLexicon(lex))
		}
		return rules.New(opts...)
	})

	// metaphone: Double Metaphone codes mapped to phones. Latin script only.
	reg.RegisterTranscriber("metaphone", func(entry config.TranscriberConfig) (phonetic.Transcriber, error) {
		var opts []metaphone.Option
		if config.OptBool(entry.Options, "alternate") {
			opts = append(opts, metaphone.WithAlternate())
		}
		return metaphone.New(opts...)
	})

	for _, name := range reg.Transcribers() {
		slog.Debug("registered transcriber", "name", name)
	}
}
