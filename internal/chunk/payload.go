package chunk

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

var ErrReleased = errors.New("payload released")

// Payload is a materialized, immutable unit of audio handed to a recognizer.
// Its transient resources are released exactly once by Release.
type Payload struct {
	data      []byte
	format    Format
	fragments int

	mu       sync.Mutex
	released bool
	wavPath  string
}

// NewPayload wraps a copy of pcm as a standalone payload.
func NewPayload(pcm []byte, format Format) *Payload {
	data := make([]byte, len(pcm))
	copy(data, pcm)
	return &Payload{data: data, format: format, fragments: 1}
}

// Bytes returns the raw PCM. Callers must not modify the returned slice.
func (p *Payload) Bytes() []byte {
	return p.data
}

func (p *Payload) Len() int {
	return len(p.data)
}

func (p *Payload) Empty() bool {
	return len(p.data) == 0
}

func (p *Payload) Fragments() int {
	return p.fragments
}

func (p *Payload) Format() Format {
	return p.format
}

func (p *Payload) Duration() time.Duration {
	return durationOf(len(p.data), p.format)
}

// WAVFile spools the payload into a temporary WAV file on first use and returns its path.
// The file is removed by Release.
func (p *Payload) WAVFile() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return "", ErrReleased
	}
	if p.wavPath != "" {
		return p.wavPath, nil
	}

	file, err := os.CreateTemp(os.TempDir(), "loqa_dictate_*.wav")
	if err != nil {
		return "", fmt.Errorf("temp file: %w", err)
	}
	if err := writePCMToWav(file, p.data, p.format); err != nil {
		file.Close()
		os.Remove(file.Name())
		return "", err
	}
	if err := file.Close(); err != nil {
		os.Remove(file.Name())
		return "", fmt.Errorf("close wav file: %w", err)
	}
	p.wavPath = file.Name()
	return p.wavPath, nil
}

// Samples decodes PCM16 into float32 samples in [-1, 1), downmixing to mono.
func (p *Payload) Samples() ([]float32, error) {
	if p.format.BitDepth != 16 {
		return nil, fmt.Errorf("unsupported bit depth %d", p.format.BitDepth)
	}
	if len(p.data)%2 != 0 {
		return nil, fmt.Errorf("pcm payload not aligned")
	}
	channels := p.format.Channels
	if channels <= 0 {
		channels = 1
	}
	frames := len(p.data) / 2 / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			offset := (i*channels + c) * 2
			sum += float32(int16(binary.LittleEndian.Uint16(p.data[offset:]))) / 32768
		}
		out[i] = sum / float32(channels)
	}
	return out, nil
}

// Release frees the payload's transient resources. Only the first call has an effect.
func (p *Payload) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return nil
	}
	p.released = true
	if p.wavPath == "" {
		return nil
	}
	path := p.wavPath
	p.wavPath = ""
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove wav file: %w", err)
	}
	return nil
}

func (p *Payload) Released() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released
}

func writePCMToWav(w io.WriteSeeker, pcm []byte, format Format) error {
	if format.BitDepth != 16 {
		return fmt.Errorf("unsupported bit depth %d", format.BitDepth)
	}
	if len(pcm)%2 != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	buffer := &audio.IntBuffer{Format: &audio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate}}
	samples := make([]int, len(pcm)/2)
	for i := 0; i < len(samples); i++ {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buffer.Data = samples

	enc := wav.NewEncoder(w, format.SampleRate, format.BitDepth, format.Channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
