package voice

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/hajimehoshi/go-mp3"
)

// maxPlayback caps a single synthesized reply so a runaway generation cannot
// occupy the channel for minutes.
const maxPlayback = 30 * time.Second

// decodeMP3 decodes an MP3 payload into interleaved 48 kHz stereo int16
// samples, resampling if the file uses a different rate.
func decodeMP3(data []byte) ([]int16, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("voice: decode mp3: %w", err)
	}

	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("voice: read mp3 pcm: %w", err)
	}

	// go-mp3 always outputs 16-bit little-endian stereo.
	pcm := make([]int16, len(raw)/2)
	for i := range pcm {
		pcm[i] = int16(raw[i*2]) | int16(raw[i*2+1])<<8
	}

	if rate := dec.SampleRate(); rate != opusSampleRate {
		pcm = resampleStereo(pcm, rate, opusSampleRate)
	}
	return pcm, nil
}

// resampleStereo converts interleaved stereo PCM between sample rates using
// linear interpolation. Quality is fine for synthesized speech.
func resampleStereo(in []int16, from, to int) []int16 {
	if from == to || len(in) < 4 {
		return in
	}
	inFrames := len(in) / 2
	outFrames := int(int64(inFrames) * int64(to) / int64(from))
	out := make([]int16, outFrames*2)

	for i := 0; i < outFrames; i++ {
		pos := float64(i) * float64(from) / float64(to)
		idx := int(pos)
		frac := pos - float64(idx)
		next := idx + 1
		if next >= inFrames {
			next = inFrames - 1
		}
		for ch := 0; ch < 2; ch++ {
			a := float64(in[idx*2+ch])
			b := float64(in[next*2+ch])
			out[i*2+ch] = int16(a + (b-a)*frac)
		}
	}
	return out
}

// opusFrames cuts interleaved 48 kHz stereo PCM into 20 ms Opus packets.
// The tail shorter than a full frame is zero-padded.
func opusFrames(pcm []int16) ([][]byte, error) {
	enc, err := newOpusEncoder()
	if err != nil {
		return nil, err
	}

	const samplesPerFrame = opusFrameSize * opusChannels
	var frames [][]byte
	for off := 0; off < len(pcm); off += samplesPerFrame {
		end := off + samplesPerFrame
		frame := make([]int16, samplesPerFrame)
		if end > len(pcm) {
			copy(frame, pcm[off:])
		} else {
			copy(frame, pcm[off:end])
		}
		pkt, err := enc.encode(frame)
		if err != nil {
			return nil, err
		}
		frames = append(frames, pkt)
	}
	return frames, nil
}

// playFrames paces Opus packets onto the send channel at the 20 ms frame
// cadence, stopping at the playback cap or when ctx is cancelled.
func playFrames(ctx context.Context, send chan<- []byte, frames [][]byte) error {
	budget := int(maxPlayback / (opusFrameSizeMs * time.Millisecond))
	if len(frames) > budget {
		frames = frames[:budget]
	}

	ticker := time.NewTicker(opusFrameSizeMs * time.Millisecond)
	defer ticker.Stop()

	for _, frame := range frames {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case send <- frame:
		}
	}
	return nil
}
