package protocol

import "encoding/json"

// The trade wire protocol reuses three message tags (trade_offer,
// trade_accept, trade_decline) for seven distinct client-facing events,
// disambiguated by payload shape. Translate maps a raw notification into a
// closed TradeEvent sum so consumers switch over concrete types instead of
// re-inspecting payload maps.

type TradeEvent interface {
	tradeEvent()
}

// TradeRequested: a new invitation aimed at TargetPlayer.
type TradeRequested struct {
	TradeID      string
	From         string
	TargetPlayer string
}

// TradeUpdated: a full snapshot of an in-progress negotiation.
type TradeUpdated struct {
	TradeID  string
	From     string
	Snapshot map[string]any
}

// TradeCompleted: settlement finished, the trade no longer exists.
type TradeCompleted struct {
	TradeID string
	From    string
}

// TradeConfirmed: the counterpart entered (or left) the confirming phase.
type TradeConfirmed struct {
	TradeID   string
	From      string
	Confirmed bool
}

// TradeAccepted: an invitation was promoted to an active trade.
type TradeAccepted struct {
	TradeID string
	From    string
}

// TradeCancelled: declined or cancelled; Reason defaults to "declined".
type TradeCancelled struct {
	TradeID string
	From    string
	Reason  string
}

func (TradeRequested) tradeEvent() {}
func (TradeUpdated) tradeEvent()   {}
func (TradeCompleted) tradeEvent() {}
func (TradeConfirmed) tradeEvent() {}
func (TradeAccepted) tradeEvent()  {}
func (TradeCancelled) tradeEvent() {}

// TranslateRaw decodes a wire notification and translates it. Undecodable
// input yields nil like any other unrecognized message.
func TranslateRaw(raw []byte) TradeEvent {
	var n Notification
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil
	}
	return Translate(n)
}

// Translate is pure and stateless. It returns nil for a missing type,
// missing payload, or an unrecognized message type.
func Translate(n Notification) TradeEvent {
	if n.Type == "" || n.Payload == nil {
		return nil
	}
	tradeID, _ := n.Payload["tradeId"].(string)
	switch n.Type {
	case TypeTradeOffer:
		if target, ok := n.Payload["targetPlayer"].(string); ok {
			return TradeRequested{TradeID: tradeID, From: n.From, TargetPlayer: target}
		}
		return TradeUpdated{TradeID: tradeID, From: n.From, Snapshot: n.Payload}
	case TypeTradeAccept:
		if status, _ := n.Payload["status"].(string); status == "completed" {
			return TradeCompleted{TradeID: tradeID, From: n.From}
		}
		if confirmed, ok := n.Payload["confirmed"].(bool); ok {
			return TradeConfirmed{TradeID: tradeID, From: n.From, Confirmed: confirmed}
		}
		return TradeAccepted{TradeID: tradeID, From: n.From}
	case TypeTradeDecline:
		reason := "declined"
		if r, ok := n.Payload["reason"].(string); ok && r != "" {
			reason = r
		}
		return TradeCancelled{TradeID: tradeID, From: n.From, Reason: reason}
	default:
		return nil
	}
}
