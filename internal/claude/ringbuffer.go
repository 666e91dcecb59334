package claude

import "sync"

// tailBuffer is a thread-safe circular byte buffer that keeps the most
// recent writes. Used to retain the tail of subprocess stderr for error
// reporting without unbounded growth.
type tailBuffer struct {
	mu   sync.Mutex
	buf  []byte
	size int
	pos  int
	full bool
}

func newTailBuffer(size int) *tailBuffer {
	if size <= 0 {
		size = 4096
	}
	return &tailBuffer{
		buf:  make([]byte, size),
		size: size,
	}
}

// Write implements io.Writer. Old data is overwritten when full.
func (tb *tailBuffer) Write(p []byte) (int, error) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	n := len(p)
	if n >= tb.size {
		copy(tb.buf, p[n-tb.size:])
		tb.pos = 0
		tb.full = true
		return n, nil
	}

	space := tb.size - tb.pos
	if n <= space {
		copy(tb.buf[tb.pos:], p)
		tb.pos += n
		if tb.pos == tb.size {
			tb.pos = 0
			tb.full = true
		}
	} else {
		copy(tb.buf[tb.pos:], p[:space])
		copy(tb.buf, p[space:])
		tb.pos = n - space
		tb.full = true
	}

	return n, nil
}

// String returns the buffered contents in chronological order.
func (tb *tailBuffer) String() string {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if !tb.full {
		return string(tb.buf[:tb.pos])
	}
	out := make([]byte, tb.size)
	copy(out, tb.buf[tb.pos:])
	copy(out[tb.size-tb.pos:], tb.buf[:tb.pos])
	return string(out)
}
