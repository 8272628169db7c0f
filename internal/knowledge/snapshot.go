package knowledge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/phonofix/internal/transcript"
	"github.com/MrWong99/phonofix/internal/transcript/tokenize"
	"github.com/MrWong99/phonofix/pkg/phonetic"
)

// SnapshotVersion is the current snapshot layout version. Snapshots with a
// different version are rejected by [ReadSnapshot].
const SnapshotVersion = 1

// ErrSnapshotVersion is returned by [ReadSnapshot] for an unsupported layout.
var ErrSnapshotVersion = errors.New("knowledge: unsupported snapshot version")

// Snapshot is a compiled knowledge base: entries with their representations
// precomputed by a named transcriber. Representations are only valid for the
// transcriber that produced them; loaders should recompile when Transcriber
// differs from the active one.
type Snapshot struct {
	Version     int                `msgpack:"version"`
	Transcriber string             `msgpack:"transcriber"`
	Created     time.Time          `msgpack:"created"`
	Entries     []transcript.Entry `msgpack:"entries"`
}

// CompileStats summarises a [Compile] run.
type CompileStats struct {
	Compiled int
	Failed   int
}

// Compile precomputes [transcript.Entry.Rep] and [transcript.Entry.Units]
// for every entry using tr, running up to workers transcriptions at once.
// Entries whose canonical form cannot be transcribed keep a nil Rep and are
// counted in [CompileStats.Failed]; the Corrector will skip them. The input
// slice is not modified.
func Compile(ctx context.Context, tr phonetic.Transcriber, entries []transcript.Entry, workers int) ([]transcript.Entry, CompileStats, error) {
	out := make([]transcript.Entry, len(entries))
	copy(out, entries)
	failed := make([]bool, len(out))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for i := range out {
		g.Go(func() error {
			e := &out[i]
			e.Units = tokenize.Count(e.Canonical)
			rep, err := tr.Transcribe(gctx, e.Canonical)
			if err == nil {
				err = rep.Validate()
			}
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				slog.Warn("knowledge: compile: term not transcribable", "canonical", e.Canonical, "err", err)
				e.Rep = nil
				failed[i] = true
				return nil
			}
			e.Rep = &rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, CompileStats{}, fmt.Errorf("knowledge: compile: %w", err)
	}

	var st CompileStats
	for _, f := range failed {
		if f {
			st.Failed++
		} else {
			st.Compiled++
		}
	}
	return out, st, nil
}

// WriteSnapshot writes snap to w as zstd-compressed msgpack. Version is set
// to [SnapshotVersion] and a zero Created is set to the current time.
func WriteSnapshot(w io.Writer, snap *Snapshot) error {
	s := *snap
	s.Version = SnapshotVersion
	if s.Created.IsZero() {
		s.Created = time.Now().UTC()
	}

	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return fmt.Errorf("knowledge: create zstd writer: %w", err)
	}
	defer zw.Close()

	if err := msgpack.NewEncoder(zw).Encode(&s); err != nil {
		return fmt.Errorf("knowledge: encode snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("knowledge: close zstd writer: %w", err)
	}
	return nil
}

// ReadSnapshot decodes a snapshot written by [WriteSnapshot].
func ReadSnapshot(r io.Reader) (*Snapshot, error) {
	zr, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(0))
	if err != nil {
		return nil, fmt.Errorf("knowledge: create zstd reader: %w", err)
	}
	defer zr.Close()

	var snap Snapshot
	if err := msgpack.NewDecoder(zr).Decode(&snap); err != nil {
		return nil, fmt.Errorf("knowledge: decode snapshot: %w", err)
	}
	if snap.Version != SnapshotVersion {
		return nil, fmt.Errorf("%w: %d (want %d)", ErrSnapshotVersion, snap.Version, SnapshotVersion)
	}
	return &snap, nil
}

// SaveSnapshot writes snap to path atomically: it writes a temporary file in
// the same directory and renames it into place.
func SaveSnapshot(path string, snap *Snapshot) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("knowledge: save snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := WriteSnapshot(tmp, snap); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("knowledge: save snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("knowledge: save snapshot: %w", err)
	}
	return nil
}

// OpenSnapshot reads the snapshot at path.
func OpenSnapshot(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("knowledge: open snapshot %q: %w", path, err)
	}
	defer f.Close()
	return ReadSnapshot(f)
}

// EntriesFor returns the snapshot's entries for use with the named
// transcriber. When the snapshot was compiled by a different transcriber the
// precomputed representations are dropped so they get recomputed.
func (s *Snapshot) EntriesFor(transcriber string) []transcript.Entry {
	out := make([]transcript.Entry, len(s.Entries))
	copy(out, s.Entries)
	if s.Transcriber == transcriber {
		return out
	}
	for i := range out {
		out[i].Rep = nil
	}
	return out
}
