// Package router maps an inbound push command to its decoder and
// handler (spec.md §9 "Command dispatch": "Router maps command ->
// (decoder, handler); implement either as a table of typed entries...
// or as a single match on the command enum"). This implementation
// takes the table approach: one typed entry per command, so adding a
// new push type never touches a growing switch.
package router

import (
	"github.com/rs/zerolog"

	"github.com/swiftim-go/core/internal/model"
	"github.com/swiftim-go/core/internal/wire"
)

// Handlers is the set of typed callbacks a Router fans pushes out to.
// Any field left nil silently drops pushes of that kind.
type Handlers struct {
	OnPushMsg         func(wire.MessagePayload)
	OnBatchMsg        func(wire.BatchMessagesPayload)
	OnRevokePush      func(wire.RevokePayload)
	OnReadReceiptPush func(wire.ReadReceiptPayload)
	OnTypingPush      func(wire.TypingPayload)
	OnKickOut         func(wire.KickOutPayload)
	// OnSendAck handles SendMsgRsp. OutboundQueue submits via
	// Transport.SendFrame rather than Request (spec.md §9 "Transport
	// submit must be non-blocking or fire-and-forget with a completion
	// callback"), so the server's ack arrives uncorrelated, as a push.
	OnSendAck func(wire.SendAckPayload)
}

type entry struct {
	decodeAndHandle func(body []byte) error
}

// Router dispatches frames handed to it by Transport's PushHandler.
type Router struct {
	table map[model.Command]entry
	log   zerolog.Logger
}

// New builds a Router wired to h, logging unroutable/malformed frames
// through logger (spec.md §6 "Unknown tags decode as Unknown and are
// logged and dropped by the router").
func New(h Handlers, logger zerolog.Logger) *Router {
	r := &Router{table: make(map[model.Command]entry), log: logger}

	r.register(model.CommandPushMsg, func(body []byte) error {
		p, err := wire.DecodeMessagePayload(body)
		if err != nil {
			return err
		}
		if h.OnPushMsg != nil {
			h.OnPushMsg(p)
		}
		return nil
	})
	r.register(model.CommandBatchMsg, func(body []byte) error {
		p, err := wire.DecodeBatchMessagesPayload(body)
		if err != nil {
			return err
		}
		if h.OnBatchMsg != nil {
			h.OnBatchMsg(p)
		}
		return nil
	})
	r.register(model.CommandRevokePush, func(body []byte) error {
		p, err := wire.DecodeRevokePayload(body)
		if err != nil {
			return err
		}
		if h.OnRevokePush != nil {
			h.OnRevokePush(p)
		}
		return nil
	})
	r.register(model.CommandReadReceiptPush, func(body []byte) error {
		p, err := wire.DecodeReadReceiptPayload(body)
		if err != nil {
			return err
		}
		if h.OnReadReceiptPush != nil {
			h.OnReadReceiptPush(p)
		}
		return nil
	})
	r.register(model.CommandTypingPush, func(body []byte) error {
		p, err := wire.DecodeTypingPayload(body)
		if err != nil {
			return err
		}
		if h.OnTypingPush != nil {
			h.OnTypingPush(p)
		}
		return nil
	})
	r.register(model.CommandSendMsgRsp, func(body []byte) error {
		p, err := wire.DecodeSendAckPayload(body)
		if err != nil {
			return err
		}
		if h.OnSendAck != nil {
			h.OnSendAck(p)
		}
		return nil
	})
	r.register(model.CommandKickOut, func(body []byte) error {
		p, err := wire.DecodeKickOutPayload(body)
		if err != nil {
			return err
		}
		if h.OnKickOut != nil {
			h.OnKickOut(p)
		}
		return nil
	})

	return r
}

func (r *Router) register(cmd model.Command, fn func(body []byte) error) {
	r.table[cmd] = entry{decodeAndHandle: fn}
}

// Route decodes and dispatches a single push frame. It is meant to be
// assigned directly as transport.Options.OnPush.
func (r *Router) Route(cmd model.Command, body []byte) {
	e, ok := r.table[cmd]
	if !ok {
		r.log.Warn().Str("command", cmd.String()).Uint16("raw", uint16(cmd)).Msg("router: dropping unrouted command")
		return
	}
	if err := e.decodeAndHandle(body); err != nil {
		r.log.Warn().Str("command", cmd.String()).Err(err).Msg("router: failed to decode push")
	}
}
