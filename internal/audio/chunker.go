package audio

// FrameChunker splits a byte stream into fixed-size frames. Bytes that do not
// fill a whole frame are carried over to the next Push; a short frame is never
// emitted and carried bytes are never dropped.
//
// A FrameChunker is not safe for concurrent use; each session owns one.
type FrameChunker struct {
	size  int
	carry []byte
}

// NewFrameChunker creates a chunker emitting frames of frameSize bytes.
// A non-positive size is treated as 1.
func NewFrameChunker(frameSize int) *FrameChunker {
	if frameSize <= 0 {
		frameSize = 1
	}
	return &FrameChunker{
		size:  frameSize,
		carry: make([]byte, 0, frameSize),
	}
}

// Push appends data to the carried remainder and returns every complete frame
// now available, in order. Returned frames do not alias data or each other.
func (c *FrameChunker) Push(data []byte) [][]byte {
	total := len(c.carry) + len(data)
	if total < c.size {
		c.carry = append(c.carry, data...)
		return nil
	}

	buf := make([]byte, 0, total)
	buf = append(buf, c.carry...)
	buf = append(buf, data...)

	count := total / c.size
	frames := make([][]byte, count)
	for i := 0; i < count; i++ {
		frame := make([]byte, c.size)
		copy(frame, buf[i*c.size:(i+1)*c.size])
		frames[i] = frame
	}

	rest := buf[count*c.size:]
	c.carry = append(c.carry[:0], rest...)
	return frames
}

// Pending returns the number of carried bytes awaiting a full frame.
func (c *FrameChunker) Pending() int {
	return len(c.carry)
}

// FrameSize returns the configured frame size in bytes.
func (c *FrameChunker) FrameSize() int {
	return c.size
}

// Reset discards the carried remainder.
func (c *FrameChunker) Reset() {
	c.carry = c.carry[:0]
}
