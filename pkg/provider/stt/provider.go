// Package stt defines the Provider interface for streaming Speech-to-Text
// backends.
//
// The central abstraction is SessionHandle: once opened, a session accepts raw
// PCM audio frames and emits two streams of Transcript values — low-latency
// partials and authoritative finals. The voice segmenter opens one session per
// speaking user and joins the finals into utterances.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrAuth marks a session failure caused by rejected credentials. It is a
// configuration problem, not a transient network error, and callers must not
// retry it.
var ErrAuth = errors.New("stt: authentication rejected")

// Transcript is one recognition result emitted by a session.
type Transcript struct {
	// Text is the recognised text. May be empty for keep-alive results.
	Text string

	// IsFinal reports whether the provider committed to this result. Only
	// final transcripts belong in the utterance buffer.
	IsFinal bool

	// Confidence is the provider's confidence in [0,1], when reported.
	Confidence float64
}

// StreamConfig describes the audio format and recognition hints for a new
// session.
type StreamConfig struct {
	// SampleRate is the PCM sample rate in Hz. Discord Opus decode output is
	// 48000.
	SampleRate int

	// Channels is the number of interleaved PCM channels.
	Channels int

	// Language is the recognition language tag (e.g. "ru"). Empty lets the
	// provider pick its default.
	Language string
}

// SessionHandle is an open streaming session. Callers must call Close when the
// session is no longer needed; failing to do so leaks goroutines and network
// connections inside the provider. All methods are safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw PCM bytes matching StreamConfig.
	// Calling SendAudio after Close returns an error.
	SendAudio(chunk []byte) error

	// Partials emits interim guesses. Closed when the session ends.
	Partials() <-chan Transcript

	// Finals emits committed results. Closed when the session ends.
	Finals() <-chan Transcript

	// Close flushes pending audio and releases the session. Safe to call more
	// than once.
	Close() error
}

// Provider is the abstraction over any streaming STT backend. Multiple
// sessions may be open simultaneously (one per speaking user).
type Provider interface {
	// StartStream opens a new session ready to accept audio. The caller owns
	// the handle and must Close it. Returns ErrAuth (wrapped) when the
	// backend rejects the credentials.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
