package audio

import (
	"fmt"

	"layeh.com/gopus"
)

// Browser capture pipelines emit 48 kHz stereo Opus at 20 ms frame size.
const (
	opusSampleRate  = 48000
	opusChannels    = 2
	opusFrameSizeMs = 20
	// opusFrameSize is the number of samples per channel per 20 ms frame.
	opusFrameSize = opusSampleRate * opusFrameSizeMs / 1000 // 960
)

// OpusDecoder decodes a single client's Opus audio stream into recognizer
// PCM. Each connection gets its own decoder to maintain decoder state
// correctly across consecutive frames. Not safe for concurrent use.
type OpusDecoder struct {
	dec     *gopus.Decoder
	dstRate int
}

// NewOpusDecoder creates an Opus decoder that outputs mono PCM at dstRate Hz.
func NewOpusDecoder(dstRate int) (*OpusDecoder, error) {
	dec, err := gopus.NewDecoder(opusSampleRate, opusChannels)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus decoder: %w", err)
	}
	return &OpusDecoder{dec: dec, dstRate: dstRate}, nil
}

// Decode decodes one Opus packet and converts it to mono little-endian int16
// PCM at the decoder's target rate.
func (d *OpusDecoder) Decode(packet []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(packet, opusFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("audio: opus decode: %w", err)
	}
	return DownmixResample(int16sToBytes(pcm), opusSampleRate, d.dstRate), nil
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
