package protocol

import "encoding/json"

const Version = "1.0"

// Client -> server message types.
const (
	TypeHello = "hello"
	TypeAct   = "act"
)

// Server -> client notification types (the trade wire protocol).
const (
	TypeTradeOffer   = "trade_offer"
	TypeTradeAccept  = "trade_accept"
	TypeTradeDecline = "trade_decline"
)

// Act action names.
const (
	ActRequestTrade = "REQUEST_TRADE"
	ActAcceptTrade  = "ACCEPT_TRADE"
	ActDeclineTrade = "DECLINE_TRADE"
	ActCancelTrade  = "CANCEL_TRADE"
	ActAddItem      = "ADD_ITEM"
	ActRemoveItem   = "REMOVE_ITEM"
	ActSetSpark     = "SET_SPARK"
	ActSetReady     = "SET_READY"
	ActConfirmTrade = "CONFIRM_TRADE"
)

type BaseMsg struct {
	Type string `json:"type"`
}

func DecodeBase(raw []byte) (BaseMsg, error) {
	var b BaseMsg
	err := json.Unmarshal(raw, &b)
	return b, err
}

// HELLO (client -> server): identifies the player for this session.
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Player          string `json:"player"`
}

// ACT (client -> server): one trade operation. ID is echoed back on the
// ACTION_RESULT so clients can correlate.
type ActMsg struct {
	Type    string  `json:"type"`
	ID      string  `json:"id"`
	Action  string  `json:"action"`
	TradeID string  `json:"trade_id,omitempty"`
	To      string  `json:"to,omitempty"`
	Slot    *int    `json:"slot,omitempty"`
	Amount  *int    `json:"amount,omitempty"`
	Pos     *[3]int `json:"pos,omitempty"`
}

// ACTION_RESULT (server -> client).
type ActionResultMsg struct {
	Type     string `json:"type"`
	Ref      string `json:"ref"`
	OK       bool   `json:"ok"`
	Code     string `json:"code,omitempty"`
	Message  string `json:"message,omitempty"`
	TradeID  string `json:"trade_id,omitempty"`
	Executed *bool  `json:"executed,omitempty"`
	Tick     uint64 `json:"t"`
}

// Notification (server -> client, and the unit the Message Translator
// consumes). To may be empty for broadcast-style snapshots.
type Notification struct {
	Type    string         `json:"type"`
	From    string         `json:"from"`
	To      string         `json:"to,omitempty"`
	Payload map[string]any `json:"payload"`
}
