package model

// Command is the wire command tag carried in the frame header (TCP
// variant) or the WebSocketMessage envelope (WS variant). The enum is
// closed on the wire; values outside it decode as CommandUnknown.
type Command uint16

const (
	CommandUnknown Command = 0

	CommandHeartbeatReq Command = 5
	CommandHeartbeatRsp Command = 6

	CommandAuthReq Command = 100
	CommandAuthRsp Command = 101
	CommandKickOut Command = 104

	CommandSendMsgReq Command = 200
	CommandSendMsgRsp Command = 201
	CommandPushMsg     Command = 202
	CommandBatchMsg    Command = 204

	CommandRevokeReq  Command = 205
	CommandRevokeRsp  Command = 206
	CommandRevokePush Command = 207

	CommandSyncReq      Command = 300
	CommandSyncRsp      Command = 301
	CommandSyncRangeReq Command = 303
	CommandSyncRangeRsp Command = 304

	CommandReadReceiptReq  Command = 500
	CommandReadReceiptRsp  Command = 501
	CommandReadReceiptPush Command = 502

	CommandTypingPush Command = 601
)

var commandNames = map[Command]string{
	CommandHeartbeatReq:    "HeartbeatReq",
	CommandHeartbeatRsp:    "HeartbeatRsp",
	CommandAuthReq:         "AuthReq",
	CommandAuthRsp:         "AuthRsp",
	CommandKickOut:         "KickOut",
	CommandSendMsgReq:      "SendMsgReq",
	CommandSendMsgRsp:      "SendMsgRsp",
	CommandPushMsg:         "PushMsg",
	CommandBatchMsg:        "BatchMsg",
	CommandRevokeReq:       "RevokeReq",
	CommandRevokeRsp:       "RevokeRsp",
	CommandRevokePush:      "RevokePush",
	CommandSyncReq:         "SyncReq",
	CommandSyncRsp:         "SyncRsp",
	CommandSyncRangeReq:    "SyncRangeReq",
	CommandSyncRangeRsp:    "SyncRangeRsp",
	CommandReadReceiptReq:  "ReadReceiptReq",
	CommandReadReceiptRsp:  "ReadReceiptRsp",
	CommandReadReceiptPush: "ReadReceiptPush",
	CommandTypingPush:      "TypingPush",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return "Unknown"
}

// IsRequest reports whether c is a client-initiated request that expects
// a response frame correlated by wire sequence.
func (c Command) IsRequest() bool {
	switch c {
	case CommandHeartbeatReq, CommandAuthReq, CommandSendMsgReq, CommandRevokeReq,
		CommandSyncReq, CommandSyncRangeReq, CommandReadReceiptReq:
		return true
	default:
		return false
	}
}
