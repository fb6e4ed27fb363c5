// Package stream smooths a firehose of small text fragments into fewer,
// sentence-aligned chunks for incremental rendering.
package stream

import "strings"

// DefaultMinChunkSize is the minimum chunk length used when none is given.
const DefaultMinChunkSize = 100

// sentenceMarkers are checked in order; the first marker whose last
// occurrence yields a qualifying chunk wins.
var sentenceMarkers = []string{". ", ".\n", "? ", "?\n", "! ", "!\n", ":\n", "\n\n"}

// Buffer accumulates fragments and re-emits them in sentence-sized chunks
// via the emit callback. A Buffer is owned by a single streaming call and
// must not be shared across streams. The concatenation of all emitted
// chunks, including the final Flush, always equals the concatenation of
// all Add inputs in order.
type Buffer struct {
	minChunkSize int
	emit         func(chunk string)
	pending      string
}

// New creates a buffer emitting chunks of at least minChunkSize characters.
// A non-positive minChunkSize falls back to DefaultMinChunkSize.
func New(minChunkSize int, emit func(chunk string)) *Buffer {
	if minChunkSize <= 0 {
		minChunkSize = DefaultMinChunkSize
	}
	return &Buffer{minChunkSize: minChunkSize, emit: emit}
}

// Add appends a fragment and emits a chunk if a sentence boundary qualifies.
func (b *Buffer) Add(fragment string) {
	b.pending += fragment

	for _, marker := range sentenceMarkers {
		idx := strings.LastIndex(b.pending, marker)
		if idx < 0 {
			continue
		}
		chunk := b.pending[:idx+len(marker)]
		if len(chunk) >= b.minChunkSize || strings.Contains(chunk, "\n\n") {
			b.emit(chunk)
			b.pending = b.pending[idx+len(marker):]
			return
		}
	}

	// No boundary qualified; cap growth on unpunctuated streams.
	if len(b.pending) >= 2*b.minChunkSize {
		b.emit(b.pending)
		b.pending = ""
	}
}

// Flush emits any remaining buffered text and clears state. Call at stream
// end.
func (b *Buffer) Flush() {
	if b.pending != "" {
		b.emit(b.pending)
		b.pending = ""
	}
}

// Len returns the number of buffered, unemitted bytes.
func (b *Buffer) Len() int {
	return len(b.pending)
}
