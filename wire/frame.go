// Package wire implements the client/server message formats.
//
// A client frame is a little-endian uint32 metadata length L, L bytes of UTF-8
// JSON carrying at least {"sampleRate": <positive int>}, followed by raw
// PCM16LE mono samples. Server messages are JSON text objects.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"
)

const headerSize = 4

// ErrMalformedFrame is wrapped by every frame decode failure
var ErrMalformedFrame = errors.New("malformed frame")

// Frame is one decoded client chunk
type Frame struct {
	SampleRate uint32
	Audio      []byte
}

type metadata struct {
	SampleRate *json.Number `json:"sampleRate"`
}

// DecodeFrame splits a client message into its sample rate and audio payload.
// Audio aliases msg.
func DecodeFrame(msg []byte) (Frame, error) {
	if len(msg) < headerSize {
		return Frame{}, fmt.Errorf("%w: %d bytes is shorter than the length header", ErrMalformedFrame, len(msg))
	}

	metaLen := binary.LittleEndian.Uint32(msg[:headerSize])
	if uint64(metaLen) > uint64(len(msg)-headerSize) {
		return Frame{}, fmt.Errorf("%w: metadata length %d exceeds payload of %d bytes",
			ErrMalformedFrame, metaLen, len(msg)-headerSize)
	}

	end := headerSize + int(metaLen)
	raw := msg[headerSize:end]
	if !utf8.Valid(raw) {
		return Frame{}, fmt.Errorf("%w: metadata is not valid UTF-8", ErrMalformedFrame)
	}

	var meta metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Frame{}, fmt.Errorf("%w: invalid metadata json: %v", ErrMalformedFrame, err)
	}
	if meta.SampleRate == nil {
		return Frame{}, fmt.Errorf("%w: metadata has no sampleRate", ErrMalformedFrame)
	}

	rate, err := parseRate(*meta.SampleRate)
	if err != nil {
		return Frame{}, err
	}

	return Frame{SampleRate: rate, Audio: msg[end:]}, nil
}

func parseRate(n json.Number) (uint32, error) {
	v, err := n.Int64()
	if err != nil {
		// Browsers may serialise 48000 as 48000.0
		f, ferr := n.Float64()
		if ferr != nil || f != math.Trunc(f) {
			return 0, fmt.Errorf("%w: sampleRate %s is not an integer", ErrMalformedFrame, n.String())
		}
		if f <= 0 || f > math.MaxUint32 {
			return 0, fmt.Errorf("%w: sampleRate %s out of range", ErrMalformedFrame, n.String())
		}
		v = int64(f)
	}
	if v <= 0 || v > math.MaxUint32 {
		return 0, fmt.Errorf("%w: sampleRate %d out of range", ErrMalformedFrame, v)
	}
	return uint32(v), nil
}

// EncodeFrame builds a client frame
func EncodeFrame(sampleRate uint32, audio []byte) ([]byte, error) {
	if sampleRate == 0 {
		return nil, fmt.Errorf("%w: sampleRate must be positive", ErrMalformedFrame)
	}
	meta, err := json.Marshal(map[string]uint32{"sampleRate": sampleRate})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	out := make([]byte, headerSize, headerSize+len(meta)+len(audio))
	binary.LittleEndian.PutUint32(out, uint32(len(meta)))
	out = append(out, meta...)
	out = append(out, audio...)
	return out, nil
}

// EncodeSamples builds a client frame from int16 samples
func EncodeSamples(sampleRate uint32, samples []int16) ([]byte, error) {
	audio := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(audio[i*2:], uint16(s))
	}
	return EncodeFrame(sampleRate, audio)
}
