package capture

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/wav"
)

// resampleQuality is the beep resampler quality; 4 is a reasonable
// speed/quality trade-off for speech.
const resampleQuality = 4

// ReadWAV decodes a WAV file, mixes it down to mono, resamples it to
// SampleRate and returns it as float32 blocks of blockSize samples. The last
// block is zero-padded.
func ReadWAV(path string, blockSize int) ([][]float32, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("%w: block size must be positive, got %d", ErrInvalidInput, blockSize)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wav %s: %w", path, err)
	}
	streamer, format, err := wav.Decode(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("decode wav %s: %w", path, err)
	}
	defer streamer.Close()

	var s beep.Streamer = streamer
	if format.SampleRate != beep.SampleRate(SampleRate) {
		s = beep.Resample(resampleQuality, format.SampleRate, beep.SampleRate(SampleRate), streamer)
	}

	var blocks [][]float32
	buf := make([][2]float64, blockSize)
	cur := make([]float32, 0, blockSize)
	for {
		n, ok := s.Stream(buf)
		for i := 0; i < n; i++ {
			cur = append(cur, float32((buf[i][0]+buf[i][1])/2))
			if len(cur) == blockSize {
				blocks = append(blocks, cur)
				cur = make([]float32, 0, blockSize)
			}
		}
		if !ok {
			break
		}
	}
	if err := streamer.Err(); err != nil {
		return nil, fmt.Errorf("stream wav %s: %w", path, err)
	}
	if len(cur) > 0 {
		padded := make([]float32, blockSize)
		copy(padded, cur)
		blocks = append(blocks, padded)
	}
	return blocks, nil
}

// BuildWAV wraps raw mono PCM16LE in a RIFF/WAVE header.
func BuildWAV(pcm []byte, sampleRate int) []byte {
	const channels, bitsPerSample = 1, 16
	byteRate := uint32(sampleRate * channels * bitsPerSample / 8)
	blockAlign := uint16(channels * bitsPerSample / 8)
	dataLen := uint32(len(pcm))
	riffSize := uint32(4 + (8 + 16) + (8 + dataLen))

	buf := &bytes.Buffer{}
	buf.Grow(44 + len(pcm))
	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, riffSize)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(buf, binary.LittleEndian, byteRate)
	_ = binary.Write(buf, binary.LittleEndian, blockAlign)
	_ = binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, dataLen)
	buf.Write(pcm)
	return buf.Bytes()
}
