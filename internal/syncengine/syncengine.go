// Package syncengine drives monotone progression of the local
// last_sync_seq watermark against the server's incremental-sync
// endpoint (spec.md §4.7). Built fresh from the spec — the teacher has
// no client-side catch-up concept — but kept in the corpus's idiom of
// a small state machine plus a progress-callback, mirrored on
// Heartbeat/Reconnector in this same tree.
package syncengine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/swiftim-go/core/internal/model"
	"github.com/swiftim-go/core/internal/wire"
)

const DefaultBatchSize = 500

// pressurePollInterval paces the wait loop a sync run enters while
// device pressure is Critical (spec.md §4.10).
const pressurePollInterval = 500 * time.Millisecond

// seqGapThreshold is the packet-loss heuristic from spec.md §4.7: a
// received-seq gap larger than this on push messages triggers an
// immediate incremental sync.
const seqGapThreshold = 3

// State is the SyncEngine's lifecycle (spec.md §4.7 "Idle -> Syncing
// -> (Completed | Failed)").
type State int

const (
	StateIdle State = iota
	StateSyncing
	StateCompleted
	StateFailed
)

// Requester is the subset of Transport SyncEngine needs.
type Requester interface {
	Request(ctx context.Context, cmd model.Command, body []byte) ([]byte, error)
}

// MessageStore is the subset of Store SyncEngine writes through.
type MessageStore interface {
	SaveMessages(ms []*model.Message) (model.BatchResult, error)
}

// Watermark persists last_sync_seq across restarts.
type Watermark interface {
	SyncState() (model.SyncState, error)
	SaveSyncState(model.SyncState) error
}

// SyncEngine coalesces concurrent start_sync calls into one in-flight
// run (spec.md §4.7).
type SyncEngine struct {
	req       Requester
	store     MessageStore
	watermark Watermark
	batchSize int32

	onProgress func(model.SyncProgress)
	onCompleted func()
	onFailed    func(error)

	pressureCritical atomic.Bool

	mu          sync.Mutex
	state       State
	lastSyncSeq int64
	inFlight    bool
	lastPushSeq int64
}

// SetDevicePressure is called by Session as DeviceMonitor levels
// change (spec.md §4.10): while critical is true, the engine defers
// starting each new batch request until pressure drops, rather than
// aborting a run already in flight.
func (e *SyncEngine) SetDevicePressure(critical bool) {
	e.pressureCritical.Store(critical)
}

// awaitPressureClear blocks until pressureCritical clears or ctx is
// cancelled.
func (e *SyncEngine) awaitPressureClear(ctx context.Context) error {
	if !e.pressureCritical.Load() {
		return nil
	}
	ticker := time.NewTicker(pressurePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !e.pressureCritical.Load() {
				return nil
			}
		}
	}
}

// Options configures a SyncEngine's callbacks and batch size.
type Options struct {
	BatchSize   int32
	OnProgress  func(model.SyncProgress)
	OnCompleted func()
	OnFailed    func(error)
}

func New(req Requester, store MessageStore, watermark Watermark, opts Options) *SyncEngine {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	lastSeq := int64(0)
	if watermark != nil {
		if st, err := watermark.SyncState(); err == nil {
			lastSeq = st.LastSyncSeq
		}
	}
	return &SyncEngine{
		req:         req,
		store:       store,
		watermark:   watermark,
		batchSize:   opts.BatchSize,
		onProgress:  opts.OnProgress,
		onCompleted: opts.OnCompleted,
		onFailed:    opts.OnFailed,
		lastSyncSeq: lastSeq,
	}
}

func (e *SyncEngine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *SyncEngine) LastSyncSeq() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSyncSeq
}

// Reset sets last_sync_seq back to 0 and clears in-flight state
// (spec.md §4.7 "reset").
func (e *SyncEngine) Reset() {
	e.mu.Lock()
	e.lastSyncSeq = 0
	e.inFlight = false
	e.state = StateIdle
	e.mu.Unlock()
	if e.watermark != nil {
		e.watermark.SaveSyncState(model.SyncState{})
	}
}

// StartSync requests messages with seq > last_sync_seq. Concurrent
// calls while a run is already in flight are coalesced into a no-op
// (spec.md §4.7 "Multiple concurrent calls are coalesced").
func (e *SyncEngine) StartSync(ctx context.Context) {
	e.mu.Lock()
	if e.inFlight {
		e.mu.Unlock()
		return
	}
	e.inFlight = true
	e.state = StateSyncing
	fromSeq := e.lastSyncSeq
	e.mu.Unlock()

	go e.runIncremental(ctx, fromSeq)
}

// SyncFrom forces a bootstrap/resume from an explicit watermark.
func (e *SyncEngine) SyncFrom(ctx context.Context, seq int64) {
	e.mu.Lock()
	if e.inFlight {
		e.mu.Unlock()
		return
	}
	e.inFlight = true
	e.state = StateSyncing
	e.lastSyncSeq = seq
	e.mu.Unlock()

	go e.runIncremental(ctx, seq)
}

// SyncRange bootstraps a bounded [fromSeq, toSeq] re-sync window
// (spec.md §4.7 "handle_sync_range_response").
func (e *SyncEngine) SyncRange(ctx context.Context, fromSeq, toSeq int64) {
	e.mu.Lock()
	if e.inFlight {
		e.mu.Unlock()
		return
	}
	e.inFlight = true
	e.state = StateSyncing
	e.mu.Unlock()

	go e.runRange(ctx, fromSeq, toSeq)
}

func (e *SyncEngine) runIncremental(ctx context.Context, fromSeq int64) {
	var processed int
	for {
		if err := e.awaitPressureClear(ctx); err != nil {
			e.fail(err)
			return
		}
		body := wire.SyncRequest{FromSeq: fromSeq, BatchSize: e.batchSize}.Encode()
		respBody, err := e.req.Request(ctx, model.CommandSyncReq, body)
		if err != nil {
			e.fail(err)
			return
		}
		batch, err := wire.DecodeBatchMessagesPayload(respBody)
		if err != nil {
			e.fail(err)
			return
		}

		maxSeq, err := e.applyBatch(batch, processed)
		if err != nil {
			e.fail(err)
			return
		}
		processed += len(batch.Messages)
		fromSeq = maxSeq

		if !batch.HasMore {
			e.complete(fromSeq)
			return
		}
	}
}

func (e *SyncEngine) runRange(ctx context.Context, fromSeq, toSeq int64) {
	var processed int
	cursor := fromSeq
	for {
		if err := e.awaitPressureClear(ctx); err != nil {
			e.fail(err)
			return
		}
		body := wire.SyncRangeRequest{FromSeq: cursor, ToSeq: toSeq}.Encode()
		respBody, err := e.req.Request(ctx, model.CommandSyncRangeReq, body)
		if err != nil {
			e.fail(err)
			return
		}
		batch, err := wire.DecodeBatchMessagesPayload(respBody)
		if err != nil {
			e.fail(err)
			return
		}

		maxSeq, err := e.applyBatch(batch, processed)
		if err != nil {
			e.fail(err)
			return
		}
		processed += len(batch.Messages)
		cursor = maxSeq

		if !batch.HasMore {
			e.completeRangeOnly()
			return
		}
	}
}

func (e *SyncEngine) applyBatch(batch wire.BatchMessagesPayload, processedSoFar int) (int64, error) {
	msgs := make([]*model.Message, 0, len(batch.Messages))
	maxSeq := int64(0)
	for _, p := range batch.Messages {
		m := &model.Message{
			MessageID:        p.MessageID,
			ClientMsgID:      p.ClientMsgID,
			ConversationID:   p.ConversationID,
			ConversationType: model.ConversationType(p.ConversationType),
			SenderID:         p.SenderID,
			ReceiverID:       p.ReceiverID,
			GroupID:          p.GroupID,
			MessageType:      p.MessageType,
			Content:          p.Content,
			Direction:        model.DirectionReceive,
			Seq:              p.Seq,
			SendTime:         p.SendTime,
			ServerTime:       p.ServerTime,
			Status:           model.StatusDelivered,
		}
		msgs = append(msgs, m)
		if p.Seq > maxSeq {
			maxSeq = p.Seq
		}
	}

	if e.store != nil {
		if _, err := e.store.SaveMessages(msgs); err != nil {
			return maxSeq, err
		}
	}

	total := processedSoFar + len(msgs)
	progressTotal := total
	if batch.ServerMaxSeq > maxSeq && maxSeq > 0 {
		// Best-effort total estimate; refined on each subsequent batch.
		progressTotal = total + int(batch.ServerMaxSeq-maxSeq)
	}
	progress := 1.0
	if progressTotal > 0 {
		progress = float64(total) / float64(progressTotal)
	}
	if e.onProgress != nil {
		e.onProgress(model.SyncProgress{
			CurrentCount: total,
			TotalCount:   progressTotal,
			Progress:     progress,
			CurrentBatch: len(msgs),
			Done:         !batch.HasMore,
		})
	}

	return maxSeq, nil
}

func (e *SyncEngine) complete(maxSeq int64) {
	e.mu.Lock()
	if maxSeq > e.lastSyncSeq {
		e.lastSyncSeq = maxSeq
	}
	e.inFlight = false
	e.state = StateCompleted
	final := e.lastSyncSeq
	e.mu.Unlock()

	if e.watermark != nil {
		e.watermark.SaveSyncState(model.SyncState{LastSyncSeq: final})
	}
	if e.onCompleted != nil {
		e.onCompleted()
	}
}

// completeRangeOnly finishes a bounded SyncRange run without advancing
// the incremental watermark.
func (e *SyncEngine) completeRangeOnly() {
	e.mu.Lock()
	e.inFlight = false
	e.state = StateCompleted
	e.mu.Unlock()

	if e.onCompleted != nil {
		e.onCompleted()
	}
}

func (e *SyncEngine) fail(err error) {
	e.mu.Lock()
	e.inFlight = false
	e.state = StateFailed
	e.mu.Unlock()

	if e.onFailed != nil {
		e.onFailed(err)
	}
}

// ObservePushSeq implements the packet-loss heuristic (spec.md §4.7):
// a received-seq gap larger than seqGapThreshold on push messages
// triggers an immediate incremental sync.
func (e *SyncEngine) ObservePushSeq(ctx context.Context, seq int64) {
	e.mu.Lock()
	gap := seq - e.lastPushSeq
	e.lastPushSeq = seq
	e.mu.Unlock()

	if gap > seqGapThreshold {
		e.StartSync(ctx)
	}
}
