package voice

import (
	"fmt"

	"layeh.com/gopus"
)

// Discord voice uses 48 kHz stereo Opus at 20 ms frame size.
const (
	opusSampleRate  = 48000
	opusChannels    = 2
	opusFrameSizeMs = 20
	// opusFrameSize is the number of samples per channel per 20 ms frame.
	opusFrameSize = opusSampleRate * opusFrameSizeMs / 1000 // 960
)

// pcmDecoder decodes one speaker's Opus packets into little-endian int16 PCM
// bytes. It is an interface so segmenter tests can run without cgo audio.
type pcmDecoder interface {
	Decode(opus []byte) ([]byte, error)
}

// opusDecoder wraps a gopus Opus decoder for a single speaker stream.
// Each speaker gets its own decoder to maintain decoder state correctly
// across consecutive frames.
type opusDecoder struct {
	dec *gopus.Decoder
}

var _ pcmDecoder = (*opusDecoder)(nil)

// newOpusDecoder creates a new Opus decoder configured for Discord audio.
func newOpusDecoder() (pcmDecoder, error) {
	dec, err := gopus.NewDecoder(opusSampleRate, opusChannels)
	if err != nil {
		return nil, fmt.Errorf("voice: create opus decoder: %w", err)
	}
	return &opusDecoder{dec: dec}, nil
}

// Decode decodes an Opus packet into interleaved PCM int16 samples and
// returns the result as little-endian bytes.
func (d *opusDecoder) Decode(opus []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(opus, opusFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("voice: opus decode: %w", err)
	}
	return int16sToBytes(pcm), nil
}

// opusEncoder wraps a gopus Opus encoder for the playback stream.
type opusEncoder struct {
	enc *gopus.Encoder
}

// newOpusEncoder creates a new Opus encoder configured for Discord audio.
func newOpusEncoder() (*opusEncoder, error) {
	enc, err := gopus.NewEncoder(opusSampleRate, opusChannels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("voice: create opus encoder: %w", err)
	}
	return &opusEncoder{enc: enc}, nil
}

// encode encodes one frame of interleaved int16 PCM samples into an Opus packet.
func (e *opusEncoder) encode(pcm []int16) ([]byte, error) {
	opus, err := e.enc.Encode(pcm, opusFrameSize, len(pcm)*2)
	if err != nil {
		return nil, fmt.Errorf("voice: opus encode: %w", err)
	}
	return opus, nil
}

// int16sToBytes converts a slice of int16 PCM samples to little-endian bytes.
func int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}
