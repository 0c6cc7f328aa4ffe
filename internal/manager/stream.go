package manager

import "context"

// fragmentBuffer lets the runtime run slightly ahead of a slow reader.
const fragmentBuffer = 64

// Stream is a running generation. Read Fragments until it is closed, then
// take the terminal Result from Wait. A caller that stops reading must
// Cancel or Wait, or the generation stalls on the next fragment.
type Stream struct {
	RequestID string
	PresetID  string

	fragments chan string
	done      chan struct{}
	result    Result
	cancel    context.CancelFunc
}

func newStream(id, presetID string, cancel context.CancelFunc) *Stream {
	return &Stream{
		RequestID: id,
		PresetID:  presetID,
		fragments: make(chan string, fragmentBuffer),
		done:      make(chan struct{}),
		cancel:    cancel,
	}
}

// Fragments yields text in generation order. It is closed before Done.
func (s *Stream) Fragments() <-chan string { return s.fragments }

// Done is closed once the Result is available.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Wait discards unread fragments, blocks until the generation ends and
// returns its result.
func (s *Stream) Wait() Result {
	for range s.fragments {
	}
	<-s.done
	return s.result
}

// Cancel stops the generation at the next fragment boundary.
func (s *Stream) Cancel() { s.cancel() }

func (s *Stream) finish(r Result) {
	s.result = r
	close(s.fragments)
	close(s.done)
	s.cancel()
}
