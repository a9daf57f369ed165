package client

import (
	"errors"
	"io"
	"unicode/utf8"
)

const readBufferSize = 4 << 10

// ChunkReader turns a response body into a lazy sequence of text chunks.
// A multi-byte character split across reads is held back until it is
// complete, so every chunk is valid UTF-8 when the input is.
type ChunkReader struct {
	src     io.Reader
	buf     []byte
	pending []byte
	err     error
}

// NewChunkReader reads from src.
func NewChunkReader(src io.Reader) *ChunkReader {
	return &ChunkReader{src: src, buf: make([]byte, readBufferSize)}
}

// Next returns the next decoded chunk. It returns io.EOF after the last chunk
// of a cleanly terminated body and the underlying error otherwise.
func (r *ChunkReader) Next() (string, error) {
	for {
		if r.err != nil {
			return r.drain()
		}

		n, err := r.src.Read(r.buf)
		if err != nil {
			r.err = err
		}
		if n == 0 {
			continue
		}

		r.pending = append(r.pending, r.buf[:n]...)
		cut := completePrefix(r.pending)
		if cut == 0 {
			continue
		}
		text := string(r.pending[:cut])
		r.pending = append(r.pending[:0], r.pending[cut:]...)
		return text, nil
	}
}

// drain flushes bytes held back for an unfinished character once the source
// has ended; they decode as replacement characters.
func (r *ChunkReader) drain() (string, error) {
	if len(r.pending) > 0 && errors.Is(r.err, io.EOF) {
		text := string(r.pending)
		r.pending = nil
		return text, nil
	}
	return "", r.err
}

// completePrefix returns the length of the longest prefix of b that does not
// end inside a multi-byte character.
func completePrefix(b []byte) int {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if utf8.FullRune(b[i:]) {
			return len(b)
		}
		return i
	}
	return len(b)
}
