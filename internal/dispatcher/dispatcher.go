// Package dispatcher wires Router's typed push callbacks to Store
// writes, OutboundQueue ACK clearance, and observer notification
// (spec.md §2 "Dispatcher", §2 data-flow: "bytes -> Transport -> Codec
// -> Router -> typed event -> Dispatcher -> Store upsert + observer
// notify + OutboundQueue.ack() when applicable").
package dispatcher

import (
	"context"

	"github.com/swiftim-go/core/internal/metricsexport"
	"github.com/swiftim-go/core/internal/model"
	"github.com/swiftim-go/core/internal/wire"
)

// MessageStore is the subset of Store Dispatcher writes through.
type MessageStore interface {
	SaveMessage(m *model.Message) (model.UpsertOutcome, error)
	SaveMessages(ms []*model.Message) (model.BatchResult, error)
	UpsertLastMessage(convID string, convType model.ConversationType, peerOrGroupID string, lastMessage []byte, lastMessageTime int64) error
}

// AckQueue is the subset of OutboundQueue Dispatcher drives on ack.
type AckQueue interface {
	Ack(clientMsgID, serverMsgID string, serverTime int64) bool
}

// Observer delivers a fanned-out event to registered listeners.
type Observer interface {
	Dispatch(model.Event)
}

// TypingHandler receives decoded TypingPush frames.
type TypingHandler interface {
	HandleTyping(convID, userID string, isTyping bool)
}

// GapObserver receives each inbound message seq so the gap heuristic
// (spec.md §4.7, §9 "Open question — inbound gap detection") can
// trigger an immediate re-sync.
type GapObserver interface {
	ObservePushSeq(ctx context.Context, seq int64)
}

// Dispatcher implements the inbound half of spec.md §2's data flow.
type Dispatcher struct {
	store   MessageStore
	queue   AckQueue
	obs     Observer
	typing  TypingHandler
	gap     GapObserver
	metrics *metricsexport.Metrics
}

// Deps collects Dispatcher's wiring; any field may be nil, in which
// case that leg of the fan-out is skipped.
type Deps struct {
	Store   MessageStore
	Queue   AckQueue
	Obs     Observer
	Typing  TypingHandler
	Gap     GapObserver
	Metrics *metricsexport.Metrics
}

func New(d Deps) *Dispatcher {
	return &Dispatcher{store: d.Store, queue: d.Queue, obs: d.Obs, typing: d.Typing, gap: d.Gap, metrics: d.Metrics}
}

func toModelMessage(p wire.MessagePayload) *model.Message {
	return &model.Message{
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
}

// HandlePushMsg persists a single incoming message, updates its
// conversation's preview, notifies observers, and (if the gap
// heuristic is wired) feeds the seq to SyncEngine.
func (d *Dispatcher) HandlePushMsg(ctx context.Context, p wire.MessagePayload) {
	m := toModelMessage(p)
	if d.store != nil {
		outcome, err := d.store.SaveMessage(m)
		if err == nil && d.metrics != nil {
			d.metrics.RecordStoreUpsert(outcome)
		}
		d.store.UpsertLastMessage(m.ConversationID, m.ConversationType, m.SenderID, m.Content, m.ServerTime)
	}
	if d.gap != nil && p.Seq > 0 {
		d.gap.ObservePushSeq(ctx, p.Seq)
	}
	if d.obs != nil {
		d.obs.Dispatch(model.Event{Kind: model.EventMessageReceived, Message: m})
	}
}

// HandleBatchMsg persists a batch push atomically and notifies
// observers once per message, in the order returned from the batch
// save (spec.md §5 "Messages persisted in the same batch commit
// atomically; observers see them in the order returned from
// save_messages").
func (d *Dispatcher) HandleBatchMsg(ctx context.Context, batch wire.BatchMessagesPayload) {
	msgs := make([]*model.Message, 0, len(batch.Messages))
	var maxSeq int64
	for _, p := range batch.Messages {
		m := toModelMessage(p)
		msgs = append(msgs, m)
		if p.Seq > maxSeq {
			maxSeq = p.Seq
		}
	}
	if d.store != nil {
		result, err := d.store.SaveMessages(msgs)
		if err == nil && d.metrics != nil {
			d.metrics.RecordBatchUpsert(result)
		}
	}
	if d.gap != nil && maxSeq > 0 {
		d.gap.ObservePushSeq(ctx, maxSeq)
	}
	if d.obs != nil {
		for _, m := range msgs {
			d.obs.Dispatch(model.Event{Kind: model.EventMessageReceived, Message: m})
		}
	}
}

// HandleSendAck clears the matching OutboundQueue entry and migrates
// the locally-keyed row to its server-assigned message_id (spec.md
// §4.6 "a later server-assigned message_id must overwrite the
// client-only row via client_msg_id match").
func (d *Dispatcher) HandleSendAck(p wire.SendAckPayload) {
	if d.queue != nil {
		d.queue.Ack(p.ClientMsgID, p.MessageID, p.ServerTime)
	}
	if d.store != nil {
		outcome, err := d.store.SaveMessage(&model.Message{
			ClientMsgID: p.ClientMsgID,
			MessageID:   p.MessageID,
			ServerTime:  p.ServerTime,
			Status:      model.StatusSent,
		})
		if err == nil && d.metrics != nil {
			d.metrics.RecordStoreUpsert(outcome)
		}
	}
}

// HandleRevokePush notifies observers of a message revocation. Store
// mutation of the revoked row is left to the caller (Session), which
// knows the conversation_id's full Message to merge the revoke fields
// into, since RevokePayload alone is not enough to reconstruct a row.
func (d *Dispatcher) HandleRevokePush(p wire.RevokePayload) {
	if d.obs != nil {
		d.obs.Dispatch(model.Event{Kind: model.EventMessageRevoked, Revoke: &model.RevokeInfo{
			ConversationID: p.ConversationID,
			MessageID:      p.MessageID,
			RevokedBy:      p.RevokedBy,
			RevokedTime:    p.RevokedTime,
		}})
	}
}

// HandleReadReceiptPush notifies observers of a peer's read receipt.
func (d *Dispatcher) HandleReadReceiptPush(p wire.ReadReceiptPayload) {
	if d.obs != nil {
		d.obs.Dispatch(model.Event{Kind: model.EventReadReceiptReceived, Receipt: &model.ReadReceipt{
			ConversationID: p.ConversationID,
			ReaderID:       p.ReaderID,
			ReadTime:       p.ReadTime,
		}})
	}
}

// HandleTypingPush forwards a TypingPush to the TypingTracker, which
// owns ignore-self and receive-timeout semantics (spec.md §4.8) and
// dispatches its own observer event once those are applied.
func (d *Dispatcher) HandleTypingPush(p wire.TypingPayload) {
	if d.typing != nil {
		d.typing.HandleTyping(p.ConversationID, p.UserID, p.IsTyping)
	}
	if d.metrics != nil {
		d.metrics.TypingEventsTotal.Inc()
	}
}

// HandleKickOut notifies observers exactly once of a server-initiated
// logout (spec.md §8 scenario S6). Transport/Session state transition
// and pending-request cancellation are Session's responsibility, since
// Dispatcher has no transport handle.
func (d *Dispatcher) HandleKickOut(p wire.KickOutPayload) {
	if d.obs != nil {
		d.obs.Dispatch(model.Event{Kind: model.EventKickedOut, Kick: &model.KickInfo{Reason: p.Reason}})
	}
}
