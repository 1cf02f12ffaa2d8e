// Package typing implements per-conversation ephemeral "is typing"
// state (spec.md §4.8): a send-side debounce that rate-limits outbound
// typing frames, and a receive-side timeout that expires a peer's
// typing state if no refresh or explicit stop arrives. Dispatch of the
// resulting state changes reuses the same weak-reference observer
// registry as the rest of the SDK (internal/observer), so the tracker
// never pins UI-owned listener state either.
package typing

import (
	"sync"
	"time"

	"github.com/swiftim-go/core/internal/model"
	"github.com/swiftim-go/core/internal/wire"
)

const (
	DefaultSendInterval = 5 * time.Second
	DefaultStopDelay    = 5 * time.Second
	DefaultRecvTimeout  = 8 * time.Second
)

// Sender is the subset of Transport the send side needs.
type Sender interface {
	SendFrame(cmd model.Command, body []byte) error
}

// Dispatcher delivers a typing state change to registered observers.
type Dispatcher interface {
	Dispatch(model.Event)
}

// Tracker implements both the send-side debounce and receive-side
// timeout halves of spec.md §4.8.
type Tracker struct {
	currentUserID string
	sender        Sender
	dispatch      Dispatcher

	sendInterval time.Duration
	stopDelay    time.Duration
	recvTimeout  time.Duration

	mu       sync.Mutex
	sendLast map[string]time.Time    // conv_id -> last "typing" frame sent
	stopTmr  map[string]*time.Timer  // conv_id -> pending auto-stop timer
	recv     map[recvKey]*recvState  // (conv_id,user_id) -> last known state
}

type recvKey struct {
	convID string
	userID string
}

type recvState struct {
	isTyping bool
	timer    *time.Timer
}

// Options configures a Tracker's intervals.
type Options struct {
	SendInterval time.Duration
	StopDelay    time.Duration
	RecvTimeout  time.Duration
}

func New(currentUserID string, sender Sender, dispatch Dispatcher, opts Options) *Tracker {
	if opts.SendInterval <= 0 {
		opts.SendInterval = DefaultSendInterval
	}
	if opts.StopDelay <= 0 {
		opts.StopDelay = DefaultStopDelay
	}
	if opts.RecvTimeout <= 0 {
		opts.RecvTimeout = DefaultRecvTimeout
	}
	return &Tracker{
		currentUserID: currentUserID,
		sender:        sender,
		dispatch:      dispatch,
		sendInterval:  opts.SendInterval,
		stopDelay:     opts.StopDelay,
		recvTimeout:   opts.RecvTimeout,
		sendLast:      make(map[string]time.Time),
		stopTmr:       make(map[string]*time.Timer),
		recv:          make(map[recvKey]*recvState),
	}
}

// SendTyping debounces outbound "typing" frames: at most one per
// SEND_INTERVAL per conversation, plus an auto-stop timer that emits a
// "stop" frame after STOP_DELAY of no further calls (spec.md §4.8).
func (t *Tracker) SendTyping(convID string) {
	t.mu.Lock()
	now := time.Now()
	last, sent := t.sendLast[convID]
	shouldSend := !sent || now.Sub(last) >= t.sendInterval
	if shouldSend {
		t.sendLast[convID] = now
	}
	if tmr, ok := t.stopTmr[convID]; ok {
		tmr.Stop()
	}
	t.stopTmr[convID] = time.AfterFunc(t.stopDelay, func() { t.sendStop(convID) })
	t.mu.Unlock()

	if shouldSend {
		t.sendFrame(convID, true)
	}
}

// StopTyping immediately emits a "stop" frame and cancels the pending
// auto-stop timer, used when the caller knows typing ended (message
// sent, input cleared) rather than waiting out STOP_DELAY.
func (t *Tracker) StopTyping(convID string) {
	t.mu.Lock()
	if tmr, ok := t.stopTmr[convID]; ok {
		tmr.Stop()
		delete(t.stopTmr, convID)
	}
	delete(t.sendLast, convID)
	t.mu.Unlock()

	t.sendFrame(convID, false)
}

func (t *Tracker) sendStop(convID string) {
	t.mu.Lock()
	delete(t.stopTmr, convID)
	delete(t.sendLast, convID)
	t.mu.Unlock()

	t.sendFrame(convID, false)
}

func (t *Tracker) sendFrame(convID string, isTyping bool) {
	if t.sender == nil {
		return
	}
	body := wire.TypingPayload{ConversationID: convID, UserID: t.currentUserID, IsTyping: isTyping}.Encode()
	t.sender.SendFrame(model.CommandTypingPush, body)
}

// HandleTyping processes an inbound TypingPush. Frames from the
// current user are ignored (spec.md §4.8 "ignores frames where user_id
// == current_user_id"). A per-(conv_id,user_id) timer auto-expires the
// typing state after RECV_TIMEOUT if no refresh or stop arrives.
func (t *Tracker) HandleTyping(convID, userID string, isTyping bool) {
	if userID == t.currentUserID {
		return
	}
	key := recvKey{convID: convID, userID: userID}

	t.mu.Lock()
	st, ok := t.recv[key]
	if !isTyping {
		if ok && st.timer != nil {
			st.timer.Stop()
		}
		delete(t.recv, key)
		t.mu.Unlock()
		t.notify(convID, userID, false)
		return
	}

	if ok && st.timer != nil {
		st.timer.Stop()
	}
	newState := &recvState{isTyping: true}
	newState.timer = time.AfterFunc(t.recvTimeout, func() { t.expireRecv(key) })
	t.recv[key] = newState
	t.mu.Unlock()

	t.notify(convID, userID, true)
}

func (t *Tracker) expireRecv(key recvKey) {
	t.mu.Lock()
	if _, ok := t.recv[key]; !ok {
		t.mu.Unlock()
		return
	}
	delete(t.recv, key)
	t.mu.Unlock()

	t.notify(key.convID, key.userID, false)
}

func (t *Tracker) notify(convID, userID string, isTyping bool) {
	if t.dispatch == nil {
		return
	}
	t.dispatch.Dispatch(model.Event{
		Kind: model.EventTypingChanged,
		Typing: &model.TypingEvent{
			ConversationID: convID,
			UserID:         userID,
			IsTyping:       isTyping,
		},
	})
}

// TypingUsers returns the set of users currently typing in convID
// (spec.md §4.8 "typing_users(conv_id) -> set<user_id>").
func (t *Tracker) TypingUsers(convID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for k, st := range t.recv {
		if k.convID == convID && st.isTyping {
			out = append(out, k.userID)
		}
	}
	return out
}

// IsTyping reports whether userID is currently typing in convID
// (spec.md §4.8 "is_typing(user, conv_id) -> bool").
func (t *Tracker) IsTyping(userID, convID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.recv[recvKey{convID: convID, userID: userID}]
	return ok && st.isTyping
}

// Stop cancels every pending timer, used on logout/shutdown.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, tmr := range t.stopTmr {
		tmr.Stop()
	}
	for _, st := range t.recv {
		if st.timer != nil {
			st.timer.Stop()
		}
	}
	t.stopTmr = make(map[string]*time.Timer)
	t.recv = make(map[recvKey]*recvState)
}
