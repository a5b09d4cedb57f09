// Package capture converts floating-point microphone blocks into the PCM16
// frames carried over the transport, and tracks a smoothed loudness value
// for level meters.
package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	// SampleRate is the only rate the server accepts.
	SampleRate = 16000

	// Decay applied to the previous loudness before comparing it with the
	// current block's RMS.
	Decay = 0.95

	fullScale = 32767
)

// ErrInvalidInput reports a malformed audio block.
var ErrInvalidInput = errors.New("invalid input")

// Frame is one encoded block. PCM holds signed 16-bit little-endian samples
// and belongs to the caller; the encoder keeps no reference to it after
// Encode returns.
type Frame struct {
	PCM      []byte
	Loudness float64
}

// Bytes returns the PCM buffer itself, not a copy.
func (f Frame) Bytes() []byte { return f.PCM }

// Len returns the number of samples.
func (f Frame) Len() int { return len(f.PCM) / 2 }

// Sample returns sample i.
func (f Frame) Sample(i int) int16 {
	return int16(binary.LittleEndian.Uint16(f.PCM[i*2:]))
}

// Encoder is not safe for concurrent use; it is meant to be driven by a
// single capture loop.
type Encoder struct {
	blockSize int
	loudness  float64
}

// NewEncoder returns an encoder. A blockSize of 0 accepts any non-empty
// block; otherwise every block must have exactly blockSize samples.
func NewEncoder(blockSize int) *Encoder {
	if blockSize < 0 {
		blockSize = 0
	}
	return &Encoder{blockSize: blockSize}
}

// Quantize maps a sample to PCM16: clamp to [-1, 1], scale by 32767 and
// truncate toward zero.
func Quantize(sample float32) int16 {
	v := float64(sample)
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int16(v * fullScale)
}

// Encode converts one block and updates the loudness estimate. On error the
// loudness is left unchanged.
func (e *Encoder) Encode(block []float32) (Frame, error) {
	if len(block) == 0 {
		return Frame{}, fmt.Errorf("%w: empty block", ErrInvalidInput)
	}
	if e.blockSize > 0 && len(block) != e.blockSize {
		return Frame{}, fmt.Errorf("%w: block has %d samples, want %d", ErrInvalidInput, len(block), e.blockSize)
	}

	pcm := make([]byte, len(block)*2)
	var sumSq float64
	for i, s := range block {
		v := float64(s)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Frame{}, fmt.Errorf("%w: non-finite sample at index %d", ErrInvalidInput, i)
		}
		sumSq += v * v
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(Quantize(s)))
	}

	rms := math.Sqrt(sumSq / float64(len(block)))
	e.loudness = math.Max(rms, e.loudness*Decay)
	return Frame{PCM: pcm, Loudness: e.loudness}, nil
}

// Loudness returns the current smoothed estimate.
func (e *Encoder) Loudness() float64 { return e.loudness }

// Reset clears the loudness estimate, e.g. when a capture session restarts.
func (e *Encoder) Reset() { e.loudness = 0 }
