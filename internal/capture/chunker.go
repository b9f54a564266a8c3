package capture

// chunker accumulates raw PCM from device callbacks and emits fixed-size
// chunks, one per capture interval. Callback buffers rarely align with the
// chunk boundary, so a partial remainder is carried between writes.
type chunker struct {
	buf  []byte
	size int
}

func newChunker(size int) *chunker {
	return &chunker{
		buf:  make([]byte, 0, size),
		size: size,
	}
}

// write appends p and invokes emit once per complete chunk. Emitted slices
// are freshly allocated; callers may retain them.
func (c *chunker) write(p []byte, emit func([]byte)) {
	c.buf = append(c.buf, p...)
	for len(c.buf) >= c.size {
		chunk := make([]byte, c.size)
		copy(chunk, c.buf[:c.size])
		emit(chunk)
		c.buf = c.buf[c.size:]
	}
}

// reset discards any buffered remainder.
func (c *chunker) reset() {
	c.buf = c.buf[:0]
}
