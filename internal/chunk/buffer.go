package chunk

import (
	"sync"
	"time"
)

// Format describes the PCM layout of captured fragments.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// DefaultFormat is 16 kHz mono PCM16, the layout recognizers expect.
var DefaultFormat = Format{SampleRate: 16000, Channels: 1, BitDepth: 16}

// BytesPerSecond returns the byte rate of the format, or zero when the format is incomplete.
func (f Format) BytesPerSecond() int {
	if f.SampleRate <= 0 || f.Channels <= 0 || f.BitDepth <= 0 {
		return 0
	}
	return f.SampleRate * f.Channels * f.BitDepth / 8
}

// Buffer accumulates captured fragments for one recording cycle.
// A new Buffer is created for every cycle; buffers are never reused.
type Buffer struct {
	format Format

	mu          sync.Mutex
	fragments   [][]byte
	size        int
	outstanding []*Payload
}

func NewBuffer(format Format) *Buffer {
	return &Buffer{format: format}
}

// Append copies fragment into the buffer. Empty fragments are ignored.
func (b *Buffer) Append(fragment []byte) {
	if len(fragment) == 0 {
		return
	}
	cp := make([]byte, len(fragment))
	copy(cp, fragment)

	b.mu.Lock()
	b.fragments = append(b.fragments, cp)
	b.size += len(cp)
	b.mu.Unlock()
}

// Materialize returns an immutable snapshot of every fragment appended so far, in append order.
// The payload shares no memory with the buffer.
func (b *Buffer) Materialize() *Payload {
	b.mu.Lock()
	defer b.mu.Unlock()

	data := make([]byte, 0, b.size)
	for _, fragment := range b.fragments {
		data = append(data, fragment...)
	}
	p := &Payload{
		data:      data,
		format:    b.format,
		fragments: len(b.fragments),
	}

	live := b.outstanding[:0]
	for _, existing := range b.outstanding {
		if !existing.Released() {
			live = append(live, existing)
		}
	}
	b.outstanding = append(live, p)
	return p
}

// Reset drops held fragments and releases any payload materialized from this buffer
// that has not been released yet.
func (b *Buffer) Reset() error {
	b.mu.Lock()
	b.fragments = nil
	b.size = 0
	outstanding := b.outstanding
	b.outstanding = nil
	b.mu.Unlock()

	var firstErr error
	for _, p := range outstanding {
		if err := p.Release(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Fragments returns the number of buffered fragments.
func (b *Buffer) Fragments() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.fragments)
}

// Duration estimates the captured audio length.
func (b *Buffer) Duration() time.Duration {
	return durationOf(b.Len(), b.format)
}

func (b *Buffer) Format() Format {
	return b.format
}

func durationOf(size int, format Format) time.Duration {
	rate := format.BytesPerSecond()
	if rate == 0 {
		return 0
	}
	return time.Duration(size) * time.Second / time.Duration(rate)
}
