// Package queue implements the reliable outbound message queue of
// spec.md §4.5: at-least-once delivery per client_msg_id, timed ACK
// tracking, bounded retry, and resend on reconnect. The teacher has no
// analogous component (it never originates outbound application
// messages), so this is built directly from the spec's algorithm,
// carrying over the teacher's single-mutex, loop-not-recursion style
// seen in its connection bookkeeping.
package queue

import (
	"sync"
	"time"

	"github.com/swiftim-go/core/internal/model"
)

const (
	DefaultMaxRetry      = 3
	DefaultAckTimeout    = 5 * time.Second
	DefaultCheckInterval = 5 * time.Second
)

// Sender is the subset of Transport the queue needs to hand off a
// frame. It returns an error when the frame could not be submitted
// (e.g. not connected) — the spec's "submit failed" case.
type Sender interface {
	SendFrame(cmd model.Command, body []byte) error
}

// Encoder turns a queued Message into its wire command and body.
type Encoder func(m *model.Message) (model.Command, []byte)

type entry struct {
	msg          *model.Message
	clientMsgID  string
	retryCount   int
	isSending    bool
	lastSendTime time.Time
}

// Queue is the mutex-guarded FIFO outbound queue. One Queue
// per logged-in session, shared across reconnects.
type Queue struct {
	mu         sync.Mutex
	entries    []*entry
	byClientID map[string]*entry

	maxRetry   int
	ackTimeout time.Duration

	sender  Sender
	encode  Encoder
	onFailed func(*model.Message)
	onAcked func(clientMsgID, serverMsgID string, serverTime int64)
	onRetry func(clientMsgID string)

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Options configures a Queue. Zero values fall back to the spec's
// defaults (MAX_RETRY=3, ACK_TIMEOUT=5s).
type Options struct {
	MaxRetry      int
	AckTimeout    time.Duration
	CheckInterval time.Duration
	OnFailed      func(*model.Message)
	OnAcked       func(clientMsgID, serverMsgID string, serverTime int64)
	OnRetry       func(clientMsgID string)
}

func New(sender Sender, encode Encoder, opts Options) *Queue {
	if opts.MaxRetry <= 0 {
		opts.MaxRetry = DefaultMaxRetry
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = DefaultAckTimeout
	}
	return &Queue{
		byClientID: make(map[string]*entry),
		maxRetry:   opts.MaxRetry,
		ackTimeout: opts.AckTimeout,
		sender:     sender,
		encode:     encode,
		onFailed:   opts.OnFailed,
		onAcked:    opts.OnAcked,
		onRetry:    opts.OnRetry,
		stop:       make(chan struct{}),
	}
}

// Start launches the periodic ACK-timeout checker.
func (q *Queue) Start(checkInterval time.Duration) {
	if checkInterval <= 0 {
		checkInterval = DefaultCheckInterval
	}
	q.wg.Add(1)
	go q.runTicker(checkInterval)
}

// Stop halts the periodic checker. Safe to call more than once.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() { close(q.stop) })
	q.wg.Wait()
}

func (q *Queue) runTicker(interval time.Duration) {
	defer q.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-q.stop:
			return
		case <-ticker.C:
			q.checkTimeouts()
		}
	}
}

// Enqueue appends m and attempts to submit it immediately (spec.md
// §4.5 step 1).
func (q *Queue) Enqueue(m *model.Message) {
	q.mu.Lock()
	e := &entry{msg: m, clientMsgID: m.ClientMsgID}
	q.entries = append(q.entries, e)
	q.byClientID[m.ClientMsgID] = e
	q.tryProcessLocked()
	q.mu.Unlock()
}

// TryProcess re-attempts submission of every not-yet-sending entry in
// FIFO order, stopping at the first submit failure.
func (q *Queue) TryProcess() {
	q.mu.Lock()
	q.tryProcessLocked()
	q.mu.Unlock()
}

// tryProcessLocked assumes mu is held. Loop-based, never recursive,
// per spec.md §4.5 "Concurrency".
func (q *Queue) tryProcessLocked() {
	for _, e := range q.entries {
		if e.isSending {
			continue
		}
		e.isSending = true
		e.lastSendTime = time.Now()

		cmd, body := q.encode(e.msg)
		if err := q.sender.SendFrame(cmd, body); err != nil {
			e.isSending = false
			return
		}
	}
}

// Ack removes the entry matching clientMsgID, resumes processing, and
// passes the server's assigned message id and time to OnAcked (spec.md
// §4.5 step 3). The queue does not write the message row itself.
func (q *Queue) Ack(clientMsgID, serverMsgID string, serverTime int64) bool {
	q.mu.Lock()
	e, ok := q.byClientID[clientMsgID]
	if ok {
		q.removeLocked(e)
	}
	if ok {
		q.tryProcessLocked()
	}
	q.mu.Unlock()

	if ok && q.onAcked != nil {
		q.onAcked(clientMsgID, serverMsgID, serverTime)
	}
	return ok
}

// OnReconnected resets every entry's in-flight flag (any submission
// before the disconnect may or may not have landed; replay is safe
// because the server dedupes by client_msg_id) and resumes processing
// (spec.md §4.5 step 5).
func (q *Queue) OnReconnected() {
	q.mu.Lock()
	for _, e := range q.entries {
		e.isSending = false
	}
	q.tryProcessLocked()
	q.mu.Unlock()
}

// checkTimeouts implements spec.md §4.5 step 4.
func (q *Queue) checkTimeouts() {
	q.mu.Lock()
	now := time.Now()
	var failed []*model.Message
	var retried []string
	for _, e := range append([]*entry(nil), q.entries...) {
		if !e.isSending {
			continue
		}
		if now.Sub(e.lastSendTime) <= q.ackTimeout {
			continue
		}
		e.retryCount++
		if e.retryCount >= q.maxRetry {
			q.removeLocked(e)
			failed = append(failed, e.msg)
			continue
		}
		e.isSending = false
		retried = append(retried, e.clientMsgID)
	}
	q.tryProcessLocked()
	q.mu.Unlock()

	if q.onFailed != nil {
		for _, m := range failed {
			q.onFailed(m)
		}
	}
	if q.onRetry != nil {
		for _, id := range retried {
			q.onRetry(id)
		}
	}
}

// removeLocked assumes mu is held.
func (q *Queue) removeLocked(target *entry) {
	delete(q.byClientID, target.clientMsgID)
	for i, e := range q.entries {
		if e == target {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return
		}
	}
}

// Len returns the number of entries currently queued (tests and
// diagnostics).
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
