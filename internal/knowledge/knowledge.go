// Package knowledge loads, validates and persists the term lists that a
// [transcript.Corrector] matches against.
//
// Supported sources, selected by file extension (see [DetectFormat]):
//
//   - .yaml / .yml: a "terms:" list; each item is either a plain string or
//     a mapping with canonical, aliases, language and metadata.
//   - .json: an array of the same objects.
//   - .jsonl / .ndjson: one object per line.
//   - .txt: one canonical term per line; blank lines and lines starting
//     with "#" are ignored.
//   - .msgpack.zst: a compiled [Snapshot] with precomputed representations
//     (see [Compile] and [WriteSnapshot]).
//
// Example YAML:
//
//	terms:
//	  - 张伟
//	  - canonical: Mini Map
//	    aliases: [minimap]
//	    language: en
//	    metadata:
//	      source: ui-glossary
package knowledge

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/phonofix/internal/transcript"
)

// Format identifies a knowledge source encoding.
type Format string

// Supported formats.
const (
	FormatYAML     Format = "yaml"
	FormatJSON     Format = "json"
	FormatJSONL    Format = "jsonl"
	FormatText     Format = "txt"
	FormatSnapshot Format = "snapshot"
)

// SnapshotExt is the file extension of compiled snapshots.
const SnapshotExt = ".msgpack.zst"

// ErrUnknownFormat is returned when a file extension or format name is not
// recognised.
var ErrUnknownFormat = errors.New("knowledge: unknown format")

// ParseFormat resolves a format name as used in configuration. The empty
// string is returned unchanged and means "detect from the file extension".
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(name))); f {
	case "", FormatYAML, FormatJSON, FormatJSONL, FormatText, FormatSnapshot:
		return f, nil
	case "yml":
		return FormatYAML, nil
	case "text":
		return FormatText, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, name)
	}
}

// DetectFormat returns the format implied by path's extension.
func DetectFormat(path string) (Format, error) {
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, SnapshotExt) {
		return FormatSnapshot, nil
	}
	switch filepath.Ext(lower) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	case ".jsonl", ".ndjson":
		return FormatJSONL, nil
	case ".txt":
		return FormatText, nil
	}
	return "", fmt.Errorf("%w: cannot infer format of %q", ErrUnknownFormat, path)
}

// File is the top-level structure of a YAML knowledge file.
type File struct {
	Terms []Term `yaml:"terms" json:"terms"`
}

// Term is one term as written in a knowledge file.
type Term struct {
	Canonical string            `yaml:"canonical" json:"canonical"`
	Aliases   []string          `yaml:"aliases,omitempty" json:"aliases,omitempty"`
	Language  string            `yaml:"language,omitempty" json:"language,omitempty"`
	Metadata  map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// UnmarshalYAML accepts either a plain scalar (the canonical form) or a
// mapping.
func (t *Term) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*t = Term{Canonical: value.Value}
		return nil
	}
	type plain Term
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*t = Term(p)
	return nil
}

// Entry converts t into a [transcript.Entry].
func (t Term) Entry() transcript.Entry {
	return transcript.Entry{
		Canonical: strings.TrimSpace(t.Canonical),
		Aliases:   t.Aliases,
		Language:  t.Language,
		Metadata:  t.Metadata,
	}
}

// Load reads the knowledge file at path, detecting the format from its
// extension, and validates the result.
func Load(path string) ([]transcript.Entry, error) {
	return LoadFormat(path, "")
}

// LoadFormat is like [Load] with an explicit format. An empty format is
// detected from the extension.
func LoadFormat(path string, format Format) ([]transcript.Entry, error) {
	return LoadFor(path, format, "")
}

// LoadFor is like [LoadFormat] for use with the named transcriber: entries
// read from a snapshot compiled by a different transcriber have their
// precomputed representations dropped (see [Snapshot.EntriesFor]). An empty
// transcriber keeps them unconditionally.
func LoadFor(path string, format Format, transcriber string) ([]transcript.Entry, error) {
	if format == "" {
		var err error
		if format, err = DetectFormat(path); err != nil {
			return nil, err
		}
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("knowledge: open %q: %w", path, err)
	}
	defer f.Close()

	entries, err := load(f, format, transcriber)
	if err != nil {
		return nil, fmt.Errorf("knowledge: load %q: %w", path, err)
	}
	return entries, nil
}

// LoadFromReader parses entries in the given format from r and validates
// them. The reader is consumed entirely; the caller is responsible for
// closing it.
func LoadFromReader(r io.Reader, format Format) ([]transcript.Entry, error) {
	return load(r, format, "")
}

func load(r io.Reader, format Format, transcriber string) ([]transcript.Entry, error) {
	var (
		entries []transcript.Entry
		err     error
	)
	switch format {
	case FormatYAML:
		entries, err = decodeYAML(r)
	case FormatJSON:
		entries, err = decodeJSON(r)
	case FormatJSONL:
		entries, err = decodeJSONL(r)
	case FormatText:
		entries, err = decodeText(r)
	case FormatSnapshot:
		var snap *Snapshot
		if snap, err = ReadSnapshot(r); err == nil {
			entries = snap.Entries
			if transcriber != "" {
				entries = snap.EntriesFor(transcriber)
			}
		}
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if err != nil {
		return nil, err
	}
	if err := Validate(entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func decodeYAML(r io.Reader) ([]transcript.Entry, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("knowledge: decode yaml: %w", err)
	}
	return termsToEntries(f.Terms), nil
}

func decodeJSON(r io.Reader) ([]transcript.Entry, error) {
	var terms []Term
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&terms); err != nil {
		return nil, fmt.Errorf("knowledge: decode json: %w", err)
	}
	return termsToEntries(terms), nil
}

func decodeJSONL(r io.Reader) ([]transcript.Entry, error) {
	var terms []Term
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var t Term
		dec := json.NewDecoder(strings.NewReader(text))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&t); err != nil {
			return nil, fmt.Errorf("knowledge: decode jsonl line %d: %w", line, err)
		}
		terms = append(terms, t)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("knowledge: read jsonl: %w", err)
	}
	return termsToEntries(terms), nil
}

func decodeText(r io.Reader) ([]transcript.Entry, error) {
	var entries []transcript.Entry
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		entries = append(entries, transcript.Entry{Canonical: text})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("knowledge: read text: %w", err)
	}
	return entries, nil
}

func termsToEntries(terms []Term) []transcript.Entry {
	entries := make([]transcript.Entry, len(terms))
	for i, t := range terms {
		entries[i] = t.Entry()
	}
	return entries
}

// Validate checks every entry and reports all problems at once.
//
// Rules:
//   - Canonical must be non-empty.
//   - Canonical forms must be unique.
//   - Aliases must be non-empty.
func Validate(entries []transcript.Entry) error {
	var errs []error
	seen := make(map[string]int, len(entries))
	for i, e := range entries {
		if strings.TrimSpace(e.Canonical) == "" {
			errs = append(errs, fmt.Errorf("knowledge: term[%d]: canonical must not be empty", i))
			continue
		}
		if prev, dup := seen[e.Canonical]; dup {
			errs = append(errs, fmt.Errorf("knowledge: term[%d]: canonical %q duplicates term[%d]", i, e.Canonical, prev))
		} else {
			seen[e.Canonical] = i
		}
		for j, a := range e.Aliases {
			if strings.TrimSpace(a) == "" {
				errs = append(errs, fmt.Errorf("knowledge: term[%d] (%q): alias[%d] must not be empty", i, e.Canonical, j))
			}
		}
	}
	return errors.Join(errs...)
}
