package voice

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Sqrilizz/BixlandAI/pkg/provider/stt"
)

const (
	// silenceTimeout is how much quiet ends a speaker's utterance. It matches
	// the utterance_end_ms hint given to the transcription backend.
	silenceTimeout = 1500 * time.Millisecond

	// flushGrace is how long the segmenter waits for trailing final
	// transcripts after the audio stream ends.
	flushGrace = 1000 * time.Millisecond

	packetBuffer = 64
)

// UtteranceFunc receives one completed utterance from a speaker.
type UtteranceFunc func(speakerID, text string)

// SegmenterConfig configures a Segmenter.
type SegmenterConfig struct {
	// STT opens one transcription session per captured utterance.
	STT stt.Provider

	// Stream is the audio format handed to the STT provider.
	Stream stt.StreamConfig

	// OnUtterance is called with each flushed utterance. Called from the
	// speaker's own goroutine; implementations must not block for long.
	OnUtterance UtteranceFunc

	// SilenceTimeout and FlushGrace override the defaults. Used by tests.
	SilenceTimeout time.Duration
	FlushGrace     time.Duration

	// NewDecoder overrides the Opus decoder constructor. Used by tests.
	NewDecoder func() (pcmDecoder, error)
}

// Segmenter turns per-speaker packet streams into discrete utterances.
//
// A speaker is idle until their first packet arrives; that starts a capture
// with a fresh decoder and STT session. Silence longer than the timeout ends
// the capture: the session is flushed, trailing finals are awaited for a
// grace period, and the joined text is emitted as one utterance. Packets from
// different speakers never mix.
type Segmenter struct {
	cfg    SegmenterConfig
	ctx    context.Context
	cancel context.CancelFunc
	log    *slog.Logger

	mu       sync.Mutex
	speakers map[string]*speakerCapture
	closed   bool

	wg sync.WaitGroup
}

// NewSegmenter creates a Segmenter. The caller must Close it to release
// captures in flight.
func NewSegmenter(cfg SegmenterConfig) *Segmenter {
	if cfg.SilenceTimeout <= 0 {
		cfg.SilenceTimeout = silenceTimeout
	}
	if cfg.FlushGrace <= 0 {
		cfg.FlushGrace = flushGrace
	}
	if cfg.NewDecoder == nil {
		cfg.NewDecoder = newOpusDecoder
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Segmenter{
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		log:      slog.Default().With("component", "segmenter"),
		speakers: make(map[string]*speakerCapture),
	}
}

// HandlePacket routes one Opus packet to the speaker's capture, starting a
// new capture if the speaker was idle. Packets arriving while the previous
// capture is draining are dropped; the capture's buffer is never reopened.
func (s *Segmenter) HandlePacket(speakerID string, opus []byte) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	c, ok := s.speakers[speakerID]
	if !ok {
		c = s.startCapture(speakerID)
		s.speakers[speakerID] = c
	}
	s.mu.Unlock()

	select {
	case c.packets <- opus:
	default:
		// Backpressure: transcription fell behind, drop rather than stall
		// the receive loop.
	}
}

// startCapture registers a capture for the speaker and kicks off its
// goroutine. The STT dial happens inside the goroutine so the receive path is
// never blocked on the network; early packets buffer in the channel
// meanwhile. Caller holds s.mu.
func (s *Segmenter) startCapture(speakerID string) *speakerCapture {
	c := &speakerCapture{
		speakerID: speakerID,
		packets:   make(chan []byte, packetBuffer),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.dropSpeaker(speakerID)

		dec, err := s.cfg.NewDecoder()
		if err != nil {
			s.log.Error("create decoder", "speaker_id", speakerID, "err", err)
			return
		}
		sess, err := s.cfg.STT.StartStream(s.ctx, s.cfg.Stream)
		if err != nil {
			if errors.Is(err, stt.ErrAuth) {
				s.log.Error("transcription credentials rejected, check configuration", "err", err)
			} else {
				s.log.Error("start transcription session", "speaker_id", speakerID, "err", err)
			}
			return
		}
		c.dec, c.sess = dec, sess
		s.runCapture(c)
	}()
	return c
}

// runCapture is the per-utterance loop: feed audio until silence, then flush.
func (s *Segmenter) runCapture(c *speakerCapture) {
	finalsDone := make(chan struct{})
	var partsMu sync.Mutex
	var parts []string
	go func() {
		defer close(finalsDone)
		for t := range c.sess.Finals() {
			if txt := strings.TrimSpace(t.Text); txt != "" {
				partsMu.Lock()
				parts = append(parts, txt)
				partsMu.Unlock()
			}
		}
	}()
	// Partials are only drained; the authoritative text comes from finals.
	go func() {
		for range c.sess.Partials() {
		}
	}()

	aborted := false
	timer := time.NewTimer(s.cfg.SilenceTimeout)
	defer timer.Stop()

loop:
	for {
		select {
		case <-s.ctx.Done():
			aborted = true
			break loop
		case <-timer.C:
			break loop
		case pkt := <-c.packets:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(s.cfg.SilenceTimeout)
			if aborted {
				continue
			}

			pcm, err := c.dec.Decode(pkt)
			if err != nil {
				if isBenignDecodeErr(err) {
					s.log.Debug("dropping undecodable packet", "speaker_id", c.speakerID, "err", err)
					continue
				}
				s.log.Warn("opus decode failed", "speaker_id", c.speakerID, "err", err)
				continue
			}
			if err := c.sess.SendAudio(pcm); err != nil {
				s.log.Warn("transcription session lost, discarding utterance",
					"speaker_id", c.speakerID, "err", err)
				aborted = true
			}
		}
	}

	// Draining: flush the session and wait briefly for trailing finals.
	_ = c.sess.Close()
	select {
	case <-finalsDone:
	case <-time.After(s.cfg.FlushGrace):
	}

	if aborted {
		return
	}
	partsMu.Lock()
	text := strings.TrimSpace(strings.Join(parts, " "))
	partsMu.Unlock()
	if text == "" {
		return
	}
	s.cfg.OnUtterance(c.speakerID, text)
}

func (s *Segmenter) dropSpeaker(speakerID string) {
	s.mu.Lock()
	delete(s.speakers, speakerID)
	s.mu.Unlock()
}

// ActiveSpeakers reports how many captures are currently running.
func (s *Segmenter) ActiveSpeakers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.speakers)
}

// Close aborts all captures without emitting and waits for their goroutines.
func (s *Segmenter) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

type speakerCapture struct {
	speakerID string
	packets   chan []byte
	dec       pcmDecoder
	sess      stt.SessionHandle
}

// isBenignDecodeErr reports whether the decode failure is the routine kind
// produced by encrypted or malformed frames around speech boundaries. These
// are expected noise, not a pipeline fault.
func isBenignDecodeErr(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "corrupted") || strings.Contains(msg, "invalid packet")
}
