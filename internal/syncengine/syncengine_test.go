package syncengine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/swiftim-go/core/internal/model"
	"github.com/swiftim-go/core/internal/wire"
)

// fakeRequester serves SyncReq by paging through a fixed seq range,
// BatchSize messages at a time, recording every request it receives.
type fakeRequester struct {
	mu       sync.Mutex
	maxSeq   int64
	requests []wire.SyncRequest
}

func (f *fakeRequester) Request(_ context.Context, cmd model.Command, body []byte) ([]byte, error) {
	req, err := wire.DecodeSyncRequest(body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	var batch wire.BatchMessagesPayload
	seq := req.FromSeq + 1
	for i := int32(0); i < req.BatchSize && seq <= f.maxSeq; i++ {
		batch.Messages = append(batch.Messages, wire.MessagePayload{
			MessageID:      "m" + string(rune('0'+seq%10)),
			ConversationID: "c1",
			Seq:            seq,
		})
		seq++
	}
	batch.HasMore = seq <= f.maxSeq
	batch.ServerMaxSeq = f.maxSeq
	return batch.Encode(), nil
}

func (f *fakeRequester) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeRequester) firstFromSeq() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return -1
	}
	return f.requests[0].FromSeq
}

type fakeStore struct {
	mu    sync.Mutex
	saved []*model.Message
}

func (s *fakeStore) SaveMessages(ms []*model.Message) (model.BatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, ms...)
	return model.BatchResult{Inserted: len(ms)}, nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

type fakeWatermark struct {
	mu sync.Mutex
	st model.SyncState
}

func (w *fakeWatermark) SyncState() (model.SyncState, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.st, nil
}

func (w *fakeWatermark) SaveSyncState(st model.SyncState) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.st = st
	return nil
}

// TestIncrementalSyncPagesToCompletion implements scenario S5 from
// spec.md §8: last_sync_seq=100, server has seq 101..250, one
// start_sync call must page through BATCH_SIZE-sized batches until
// has_more=false, ending at last_sync_seq=250 with all 150 messages
// persisted exactly once.
func TestIncrementalSyncPagesToCompletion(t *testing.T) {
	req := &fakeRequester{maxSeq: 250}
	st := &fakeStore{}
	wm := &fakeWatermark{st: model.SyncState{LastSyncSeq: 100}}

	done := make(chan struct{})
	e := New(req, st, wm, Options{
		BatchSize:   50,
		OnCompleted: func() { close(done) },
		OnFailed:    func(err error) { t.Errorf("unexpected failure: %v", err) },
	})

	e.StartSync(context.Background())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sync did not complete")
	}

	if req.firstFromSeq() != 100 {
		t.Fatalf("expected first request from_seq=100 (last_sync_seq), got %d", req.firstFromSeq())
	}
	if got := req.requestCount(); got != 3 {
		t.Fatalf("expected 3 batches of 50 over 150 messages, got %d requests", got)
	}
	if st.count() != 150 {
		t.Fatalf("expected all 150 messages persisted, got %d", st.count())
	}
	if e.LastSyncSeq() != 250 {
		t.Fatalf("expected last_sync_seq=250, got %d", e.LastSyncSeq())
	}
	if e.State() != StateCompleted {
		t.Fatalf("expected StateCompleted, got %v", e.State())
	}
}

func TestConcurrentStartSyncCallsAreCoalesced(t *testing.T) {
	req := &fakeRequester{maxSeq: 250}
	st := &fakeStore{}
	wm := &fakeWatermark{st: model.SyncState{LastSyncSeq: 100}}

	done := make(chan struct{})
	var once sync.Once
	e := New(req, st, wm, Options{
		BatchSize:   50,
		OnCompleted: func() { once.Do(func() { close(done) }) },
	})

	for i := 0; i < 5; i++ {
		e.StartSync(context.Background())
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sync did not complete")
	}

	if req.requestCount() != 3 {
		t.Fatalf("expected coalesced runs to still issue exactly 3 requests, got %d", req.requestCount())
	}
}

func TestObservePushSeqGapTriggersImmediateSync(t *testing.T) {
	req := &fakeRequester{maxSeq: 5}
	st := &fakeStore{}
	wm := &fakeWatermark{st: model.SyncState{LastSyncSeq: 0}}

	done := make(chan struct{})
	e := New(req, st, wm, Options{
		BatchSize:   50,
		OnCompleted: func() { close(done) },
	})

	// A gap of 10 (> seqGapThreshold of 3) on a push message must
	// trigger an immediate sync.
	e.ObservePushSeq(context.Background(), 10)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("gap-triggered sync did not complete")
	}
	if req.requestCount() == 0 {
		t.Fatal("expected gap heuristic to trigger at least one sync request")
	}
}

func TestResetClearsWatermarkAndState(t *testing.T) {
	req := &fakeRequester{maxSeq: 0}
	st := &fakeStore{}
	wm := &fakeWatermark{st: model.SyncState{LastSyncSeq: 42}}

	e := New(req, st, wm, Options{})
	if e.LastSyncSeq() != 42 {
		t.Fatalf("expected initial watermark loaded from store, got %d", e.LastSyncSeq())
	}

	e.Reset()

	if e.LastSyncSeq() != 0 {
		t.Fatalf("expected last_sync_seq reset to 0, got %d", e.LastSyncSeq())
	}
	if e.State() != StateIdle {
		t.Fatalf("expected state Idle after reset, got %v", e.State())
	}
	persisted, _ := wm.SyncState()
	if persisted.LastSyncSeq != 0 {
		t.Fatalf("expected persisted watermark reset too, got %+v", persisted)
	}
}

// TestDevicePressureDefersNewBatches implements spec.md §4.10: while
// SetDevicePressure(true) holds, a running sync must not issue its
// next batch request until pressure clears.
func TestDevicePressureDefersNewBatches(t *testing.T) {
	req := &fakeRequester{maxSeq: 250}
	st := &fakeStore{}
	wm := &fakeWatermark{st: model.SyncState{LastSyncSeq: 100}}

	done := make(chan struct{})
	e := New(req, st, wm, Options{
		BatchSize:   50,
		OnCompleted: func() { close(done) },
	})

	e.SetDevicePressure(true)
	e.StartSync(context.Background())

	time.Sleep(50 * time.Millisecond)
	if got := req.requestCount(); got > 1 {
		t.Fatalf("expected sync to stall under critical pressure after at most its first batch, got %d requests", got)
	}

	e.SetDevicePressure(false)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sync did not resume once pressure cleared")
	}
	if e.LastSyncSeq() != 250 {
		t.Fatalf("expected sync to still reach last_sync_seq=250 once unblocked, got %d", e.LastSyncSeq())
	}
}
