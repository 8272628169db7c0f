// Package types defines the shared types used across phonofix packages.
//
// These types form the lingua franca between the correction engine, the
// transport surfaces and external ASR producers. Each package defines its
// own domain types; cross-cutting data structures live here to avoid
// circular imports.
package types

import "time"

// Transcript represents a speech-to-text result handed to phonofix for
// correction. Only Text is required; the remaining fields are optional
// metadata that some ASR providers report.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string `json:"text"`

	// IsFinal indicates whether this is a final (authoritative) or partial (interim) transcript.
	IsFinal bool `json:"is_final,omitempty"`

	// Confidence is the overall confidence score (0.0–1.0). May be zero if the provider
	// does not report confidence.
	Confidence float64 `json:"confidence,omitempty"`

	// Words contains per-word detail when available. Words must appear in
	// Text in the listed order. May be nil.
	Words []WordDetail `json:"words,omitempty"`

	// SpeakerID identifies the speaker when speaker diarization is active.
	SpeakerID string `json:"speaker_id,omitempty"`

	// Timestamp marks when the utterance started, relative to stream start.
	Timestamp time.Duration `json:"timestamp,omitempty"`

	// Duration is the length of the utterance.
	Duration time.Duration `json:"duration,omitempty"`
}

// WordDetail holds per-word metadata from ASR providers that support it.
type WordDetail struct {
	Word       string        `json:"word"`
	Start      time.Duration `json:"start,omitempty"`
	End        time.Duration `json:"end,omitempty"`
	Confidence float64       `json:"confidence"`
}
