package record

// Stream is a channel of parsed rows plus a terminal error.
//
// Rows must be drained before calling Wait; the producer closes the channel
// when the source is exhausted or a fatal error occurred, and Wait reports
// that error. Row-scoped parse errors never surface here (they go to the
// producer's error callback).
type Stream struct {
	Rows <-chan *Row

	wait func() error
}

// NewStream wraps a row channel and a wait function.
func NewStream(rows <-chan *Row, wait func() error) *Stream {
	if wait == nil {
		wait = func() error { return nil }
	}
	return &Stream{Rows: rows, wait: wait}
}

// Wait blocks until the producer has finished and returns its terminal error.
func (s *Stream) Wait() error { return s.wait() }
