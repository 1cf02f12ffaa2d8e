// Package session combines Transport, Heartbeat, Reconnector,
// OutboundQueue, SyncEngine, TypingTracker, Router and Dispatcher into
// the single entry point a host app drives: login, send, logout
// (spec.md §4.9).
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/swiftim-go/core/internal/devicemonitor"
	"github.com/swiftim-go/core/internal/dispatcher"
	"github.com/swiftim-go/core/internal/heartbeat"
	"github.com/swiftim-go/core/internal/metricsexport"
	"github.com/swiftim-go/core/internal/model"
	"github.com/swiftim-go/core/internal/observer"
	"github.com/swiftim-go/core/internal/queue"
	"github.com/swiftim-go/core/internal/ratelimit"
	"github.com/swiftim-go/core/internal/reconnect"
	"github.com/swiftim-go/core/internal/router"
	"github.com/swiftim-go/core/internal/store"
	"github.com/swiftim-go/core/internal/syncengine"
	"github.com/swiftim-go/core/internal/transport"
	"github.com/swiftim-go/core/internal/typing"
	"github.com/swiftim-go/core/internal/wire"
	"github.com/swiftim-go/core/internal/workerpool"
)

const (
	defaultMaxSendRate      = 50
	defaultMaxReconnectRate = 1
)

// Options configures the pieces Session wires together. Zero values
// fall back to each component's own defaults.
type Options struct {
	Logger zerolog.Logger

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	ReconnectBase        time.Duration
	ReconnectMaxAttempts int

	QueueMaxRetry      int
	QueueAckTimeout    time.Duration
	QueueCheckInterval time.Duration

	SyncBatchSize int32

	TypingSendInterval time.Duration
	TypingStopDelay    time.Duration
	TypingRecvTimeout  time.Duration

	// MaxSendRate and MaxReconnectRate bound the OutboundQueue resend
	// rate and the Reconnector dial rate respectively (spec.md §4.11).
	// Zero falls back to 50/s and 1/s.
	MaxSendRate      float64
	MaxReconnectRate float64

	// Metrics, if set, receives connection/queue/sync/typing counters.
	// Nil disables metrics reporting entirely.
	Metrics *metricsexport.Metrics

	// WorkerPoolSize bounds the pool fanning out observer
	// notifications. <= 0 defaults to 2*NumCPU.
	WorkerPoolSize int

	// DeviceMonitorInterval paces CPU/memory pressure sampling. <= 0
	// defaults to 20s.
	DeviceMonitorInterval time.Duration
	DeviceThresholds      devicemonitor.Thresholds
}

// Session is the SDK's top-level object: one per logged-in user.
type Session struct {
	addr string
	opts Options
	log  zerolog.Logger

	store *store.Store
	obs   *observer.Registry

	mu            sync.Mutex
	state         model.ConnState
	autoReconnect bool
	userID        string
	token         string

	transport   transport.Transport
	heartbeat   *heartbeat.Heartbeat
	reconnector *reconnect.Reconnector
	queue       *queue.Queue
	sync        *syncengine.SyncEngine
	typing      *typing.Tracker
	dispatcher  *dispatcher.Dispatcher
	limiters    *ratelimit.Limiters
	notifyPool  *workerpool.Pool
	notify      *asyncObserver
	device      *devicemonitor.Monitor

	reconnectTriggers chan struct{}
	runCtx            context.Context
	runCancel         context.CancelFunc
}

// New constructs a Session bound to addr (the Transport dial target)
// and dbPath (the local Store file; ":memory:" for tests). It does
// not connect — call Login.
func New(addr, dbPath string, opts Options) (*Session, error) {
	st, err := store.Open(dbPath, opts.Logger)
	if err != nil {
		return nil, err
	}
	return &Session{
		addr:  addr,
		opts:  opts,
		log:   opts.Logger,
		store: st,
		obs:   observer.New(),
		state: model.StateDisconnected,
	}, nil
}

// Observer returns the registry host apps register listeners on.
func (s *Session) Observer() *observer.Registry { return s.obs }

// State returns the current connection state.
func (s *Session) State() model.ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Login instantiates the Transport, launches the Reconnector, and
// connects (spec.md §4.9). On successful authenticated connection it
// starts Heartbeat, triggers an initial sync, and replays any queued
// outbound messages.
func (s *Session) Login(ctx context.Context, userID, token string) error {
	s.mu.Lock()
	s.userID = userID
	s.token = token
	s.autoReconnect = true
	s.mu.Unlock()

	s.runCtx, s.runCancel = context.WithCancel(context.Background())
	s.reconnectTriggers = make(chan struct{}, 1)

	s.notifyPool = workerpool.New(s.opts.WorkerPoolSize, s.log)
	s.notifyPool.Start(s.runCtx)
	s.notify = &asyncObserver{obs: s.obs, pool: s.notifyPool}

	s.device = devicemonitor.New(s.opts.DeviceThresholds, s.log)

	maxSend := s.opts.MaxSendRate
	if maxSend <= 0 {
		maxSend = defaultMaxSendRate
	}
	maxReconnect := s.opts.MaxReconnectRate
	if maxReconnect <= 0 {
		maxReconnect = defaultMaxReconnectRate
	}
	s.limiters = ratelimit.New(maxSend, maxReconnect)

	r := router.New(router.Handlers{
		// Bound as closures over s.dispatcher, not method values: the
		// Dispatcher is constructed below, after Transport (which needs
		// r.Route as its OnPush), so at the time these are registered
		// s.dispatcher is still nil — only the later calls, once a
		// connection is actually up, see it populated.
		OnPushMsg:         func(p wire.MessagePayload) { s.dispatcher.HandlePushMsg(s.runCtx, p) },
		OnBatchMsg:        func(p wire.BatchMessagesPayload) { s.dispatcher.HandleBatchMsg(s.runCtx, p) },
		OnRevokePush:      func(p wire.RevokePayload) { s.dispatcher.HandleRevokePush(p) },
		OnReadReceiptPush: func(p wire.ReadReceiptPayload) { s.dispatcher.HandleReadReceiptPush(p) },
		OnTypingPush:      func(p wire.TypingPayload) { s.dispatcher.HandleTypingPush(p) },
		OnSendAck:         func(p wire.SendAckPayload) { s.dispatcher.HandleSendAck(p) },
		OnKickOut:         s.onKickOut,
	}, s.log)

	tr, err := transport.New(s.addr, transport.Options{
		OnState: s.onTransportState,
		OnPush:  r.Route,
		OnFatal: s.onFatal,
	})
	if err != nil {
		return err
	}
	s.transport = tr
	sender := &rateLimitedSender{tr: tr, limiters: s.limiters}

	s.typing = typing.New(userID, sender, s.notify, typing.Options{
		SendInterval: s.opts.TypingSendInterval,
		StopDelay:    s.opts.TypingStopDelay,
		RecvTimeout:  s.opts.TypingRecvTimeout,
	})

	s.queue = queue.New(sender, encodeMessage, queue.Options{
		MaxRetry:      s.opts.QueueMaxRetry,
		AckTimeout:    s.opts.QueueAckTimeout,
		CheckInterval: s.opts.QueueCheckInterval,
		OnFailed:      s.onQueueFailed,
		OnAcked:       s.onQueueAcked,
		OnRetry:       s.onQueueRetry,
	})
	s.queue.Start(s.opts.QueueCheckInterval)

	s.sync = syncengine.New(tr, s.store, s.store, syncengine.Options{
		BatchSize:  s.opts.SyncBatchSize,
		OnProgress: s.onSyncProgress,
	})

	s.dispatcher = dispatcher.New(dispatcher.Deps{
		Store:   s.store,
		Queue:   s.queue,
		Obs:     s.notify,
		Typing:  s.typing,
		Gap:     s.sync,
		Metrics: s.opts.Metrics,
	})

	s.reconnector = reconnect.New(s.opts.ReconnectBase, s.opts.ReconnectMaxAttempts)
	go s.reconnector.Run(s.runCtx, s.reconnectTriggers, s.dial, s.onReconnectScheduled, s.onMaxReconnectAttempts)

	// Launched only once sync/reconnector exist: watchDevicePressure
	// reads both fields on every level change.
	go s.watchDevicePressure(s.runCtx)

	return s.dial(ctx)
}

// dial performs one connect+authenticate attempt and, on success,
// starts Heartbeat and kicks off sync/queue replay. It is also the
// Reconnector's DialFunc.
func (s *Session) dial(ctx context.Context) error {
	s.mu.Lock()
	userID, token := s.userID, s.token
	s.mu.Unlock()

	if s.limiters != nil {
		if err := s.limiters.WaitReconnect(ctx); err != nil {
			return err
		}
	}

	if err := s.transport.Connect(ctx, s.addr, transport.Credentials{UserID: userID, Token: token}); err != nil {
		return err
	}

	s.heartbeat = heartbeat.New(s.opts.HeartbeatInterval, s.opts.HeartbeatTimeout, &meteredRequester{tr: s.transport, metrics: s.opts.Metrics}, s.onHeartbeatFail)
	s.heartbeat.Start()

	s.queue.OnReconnected()
	s.sync.StartSync(s.runCtx)

	return nil
}

// Logout disables auto-reconnect, cancels pending requests, stops
// heartbeat, closes the transport, and closes the store (spec.md
// §4.9).
func (s *Session) Logout() {
	s.mu.Lock()
	s.autoReconnect = false
	s.mu.Unlock()

	if s.runCancel != nil {
		s.runCancel()
	}
	if s.heartbeat != nil {
		s.heartbeat.Stop()
	}
	if s.queue != nil {
		s.queue.Stop()
	}
	if s.transport != nil {
		s.transport.FailPending(model.New(model.ErrNotConnected, "logout"))
		s.transport.Disconnect()
	}
	if s.typing != nil {
		s.typing.Stop()
	}
	if s.device != nil {
		s.device.Stop()
	}
	if s.notifyPool != nil {
		s.notifyPool.Stop()
	}
	if s.store != nil {
		s.store.Close()
	}
}

// watchDevicePressure relays devicemonitor level changes onto the
// observer bus so host apps can throttle their own sync/send activity
// under CPU/memory pressure, and pushes the same level into SyncEngine
// and Reconnector so they throttle themselves (spec.md §4.10): under
// Critical, SyncEngine defers starting new batches and Reconnector
// widens its backoff.
func (s *Session) watchDevicePressure(ctx context.Context) {
	interval := s.opts.DeviceMonitorInterval
	for lvl := range s.device.Watch(ctx, interval) {
		critical := lvl == devicemonitor.Critical
		s.sync.SetDevicePressure(critical)
		s.reconnector.SetDevicePressure(critical)
		s.notify.Dispatch(model.Event{Kind: model.EventDevicePressureChanged, DevicePressure: int(lvl)})
	}
}

// SendMessage enqueues m on the OutboundQueue, assigning a
// client_msg_id if the caller left one unset.
func (s *Session) SendMessage(m *model.Message) {
	if m.ClientMsgID == "" {
		m.ClientMsgID = uuid.NewString()
	}
	if m.SendTime == 0 {
		m.SendTime = model.NowMillis()
	}
	m.Status = model.StatusSending
	m.Direction = model.DirectionSend
	if outcome, err := s.store.SaveMessage(m); err == nil && s.opts.Metrics != nil {
		s.opts.Metrics.RecordStoreUpsert(outcome)
	}
	s.queue.Enqueue(m)
	s.updateQueueDepth()
}

func (s *Session) updateQueueDepth() {
	if s.opts.Metrics != nil {
		s.opts.Metrics.QueueDepth.Set(float64(s.queue.Len()))
	}
}

// SendTyping forwards to the TypingTracker (spec.md §4.8).
func (s *Session) SendTyping(convID string) {
	if s.typing != nil {
		s.typing.SendTyping(convID)
	}
}

func encodeMessage(m *model.Message) (model.Command, []byte) {
	body := wire.MessagePayload{
		ClientMsgID:      m.ClientMsgID,
		ConversationID:   m.ConversationID,
		ConversationType: int32(m.ConversationType),
		SenderID:         m.SenderID,
		ReceiverID:       m.ReceiverID,
		GroupID:          m.GroupID,
		MessageType:      m.MessageType,
		Content:          m.Content,
		SendTime:         m.SendTime,
	}.Encode()
	return model.CommandSendMsgReq, body
}

func (s *Session) onTransportState(st model.ConnState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	if s.opts.Metrics != nil {
		s.opts.Metrics.ConnState.Set(float64(st))
		if st == model.StateConnected {
			s.opts.Metrics.ReconnectSucceededTotal.Inc()
		}
	}
	s.notify.Dispatch(model.Event{Kind: model.EventConnStateChanged, ConnState: st})
}

// onFatal reacts to an unplanned transport teardown (spec.md §7
// "Transport: ... Non-fatal to the SDK; reconnect is scheduled.").
func (s *Session) onFatal(err error) {
	if s.heartbeat != nil {
		s.heartbeat.Stop()
	}
	s.mu.Lock()
	ar := s.autoReconnect
	s.mu.Unlock()
	if !ar {
		return
	}
	select {
	case s.reconnectTriggers <- struct{}{}:
	default:
	}
}

func (s *Session) onHeartbeatFail(err error) {
	s.log.Warn().Err(err).Msg("session: heartbeat probe failed, disconnecting")
	if s.opts.Metrics != nil {
		s.opts.Metrics.HeartbeatFailuresTotal.Inc()
	}
	s.transport.Disconnect()
	s.onFatal(err)
}

func (s *Session) onReconnectScheduled(attempt int, delay time.Duration) {
	s.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("session: reconnect scheduled")
	if s.opts.Metrics != nil {
		s.opts.Metrics.ReconnectAttemptsTotal.Inc()
	}
}

func (s *Session) onMaxReconnectAttempts() {
	s.log.Error().Msg("session: max reconnect attempts reached")
	if s.opts.Metrics != nil {
		s.opts.Metrics.ReconnectMaxAttemptsTotal.Inc()
	}
	s.notify.Dispatch(model.Event{Kind: model.EventConnStateChanged, ConnState: model.StateDisconnected})
}

func (s *Session) onQueueFailed(m *model.Message) {
	m.Status = model.StatusFailed
	if outcome, err := s.store.SaveMessage(m); err == nil && s.opts.Metrics != nil {
		s.opts.Metrics.RecordStoreUpsert(outcome)
	}
	if s.opts.Metrics != nil {
		s.opts.Metrics.QueueFailuresTotal.Inc()
	}
	s.updateQueueDepth()
}

func (s *Session) onQueueAcked(clientMsgID, serverMsgID string, serverTime int64) {
	if s.opts.Metrics != nil {
		s.opts.Metrics.QueueAckedTotal.Inc()
	}
	s.updateQueueDepth()
}

func (s *Session) onQueueRetry(clientMsgID string) {
	if s.opts.Metrics != nil {
		s.opts.Metrics.QueueRetriesTotal.Inc()
	}
}

func (s *Session) onSyncProgress(p model.SyncProgress) {
	if s.opts.Metrics != nil {
		s.opts.Metrics.SyncBatchesTotal.Inc()
		s.opts.Metrics.SyncWatermark.Set(float64(p.CurrentCount))
		if p.Failed {
			s.opts.Metrics.SyncFailuresTotal.Inc()
		}
	}
	s.notify.Dispatch(model.Event{Kind: model.EventSyncProgress, Sync: &p})
}

// onKickOut implements spec.md §8 scenario S6: transition to
// Disconnected, disable auto-reconnect, cancel pending requests with
// KickedOut, and notify observers exactly once.
func (s *Session) onKickOut(p wire.KickOutPayload) {
	s.mu.Lock()
	s.autoReconnect = false
	s.mu.Unlock()

	s.transport.FailPending(model.New(model.ErrKickedOut, p.Reason))
	s.transport.Disconnect()
	s.dispatcher.HandleKickOut(p)
}

// asyncObserver fans observer notifications out through the
// WorkerPool so a slow listener never stalls the router/dispatcher
// goroutine that produced the event (spec.md §4.12). Register and
// Unregister still go straight to the underlying Registry — only
// Dispatch is pooled.
type asyncObserver struct {
	obs  *observer.Registry
	pool *workerpool.Pool
}

func (a *asyncObserver) Dispatch(ev model.Event) {
	a.pool.Submit(func() { a.obs.Dispatch(ev) })
}

// rateLimitedSender paces OutboundQueue resends through the
// RateLimiter's Send bucket (spec.md §4.11). It checks the bucket
// without blocking: a send over budget is treated the same as a
// transient transport failure and retried on the next queue tick,
// since SendFrame is called under the queue's lock and must never
// block there.
type rateLimitedSender struct {
	tr       transport.Transport
	limiters *ratelimit.Limiters
}

func (r *rateLimitedSender) SendFrame(cmd model.Command, body []byte) error {
	if r.limiters != nil && !r.limiters.AllowSend() {
		return model.New(model.ErrTransport, "send rate limit exceeded")
	}
	return r.tr.SendFrame(cmd, body)
}

// meteredRequester wraps Transport.Request to record heartbeat RTT
// without heartbeat itself depending on metricsexport.
type meteredRequester struct {
	tr      transport.Transport
	metrics *metricsexport.Metrics
}

func (m *meteredRequester) Request(ctx context.Context, cmd model.Command, body []byte) ([]byte, error) {
	start := time.Now()
	resp, err := m.tr.Request(ctx, cmd, body)
	if m.metrics != nil {
		m.metrics.HeartbeatRTT.Observe(time.Since(start).Seconds())
	}
	return resp, err
}
