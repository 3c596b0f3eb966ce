package flow

import "sync"

// CancelToken is a write-once cancellation flag with publish/subscribe
// semantics. Tripping it closes the Done channel, waking every waiting
// executor at once. Executors receive the token in their envelope and
// should check it at every I/O boundary.
type CancelToken struct {
	mu      sync.Mutex
	done    chan struct{}
	tripped bool
}

// NewCancelToken returns an untripped token.
func NewCancelToken() *CancelToken {
	return &CancelToken{done: make(chan struct{})}
}

// Cancel trips the token. Idempotent; later calls are no-ops.
func (t *CancelToken) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tripped {
		return
	}
	t.tripped = true
	close(t.done)
}

// Cancelled reports whether the token has been tripped.
func (t *CancelToken) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tripped
}

// Done returns a channel that is closed when the token trips. Suitable
// for select loops alongside context cancellation.
func (t *CancelToken) Done() <-chan struct{} {
	return t.done
}
