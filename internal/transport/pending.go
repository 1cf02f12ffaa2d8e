package transport

import (
	"sync"

	"github.com/swiftim-go/core/internal/model"
)

// pendingMap correlates outstanding Request calls with their response
// frame by wire sequence (spec.md §4.2 "Pending request/response
// correlation"). Shared by both Transport variants.
type pendingMap struct {
	mu      sync.Mutex
	waiters map[uint32]chan pendingResult
}

type pendingResult struct {
	body []byte
	err  error
}

func newPendingMap() *pendingMap {
	return &pendingMap{waiters: make(map[uint32]chan pendingResult)}
}

// register creates the completion channel for seq. The entry is
// removed by whichever of resolve, failAll or forget reaches it first.
func (p *pendingMap) register(seq uint32) chan pendingResult {
	ch := make(chan pendingResult, 1)
	p.mu.Lock()
	p.waiters[seq] = ch
	p.mu.Unlock()
	return ch
}

func (p *pendingMap) forget(seq uint32) {
	p.mu.Lock()
	delete(p.waiters, seq)
	p.mu.Unlock()
}

// resolve completes the waiter for seq with body, if one is
// outstanding. Returns false when seq has no pending entry — the
// caller should then treat the frame as a push.
func (p *pendingMap) resolve(seq uint32, body []byte) bool {
	p.mu.Lock()
	ch, ok := p.waiters[seq]
	if ok {
		delete(p.waiters, seq)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	ch <- pendingResult{body: body}
	return true
}

// failAll completes every outstanding waiter with err (defaulting to
// NotConnected when nil). Called on disconnect (spec.md §4.2 "On
// disconnect, all pending completions are failed with NotConnected")
// and, with ErrKickedOut, on a KickOut push (spec.md §8 scenario S6).
func (p *pendingMap) failAll(err error) {
	p.mu.Lock()
	waiters := p.waiters
	p.waiters = make(map[uint32]chan pendingResult)
	p.mu.Unlock()

	if err == nil {
		err = model.New(model.ErrNotConnected, "transport disconnected")
	}
	for _, ch := range waiters {
		ch <- pendingResult{err: err}
	}
}
