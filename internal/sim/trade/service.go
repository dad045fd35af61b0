package trade

import (
	"fmt"
	"sync"
	"time"

	"embervale.gg/internal/protocol"
)

// Result is the common outcome shape: operations report failure as data
// instead of raising, so the tick loop never unwinds.
type Result struct {
	OK      bool
	Code    string // protocol E_* code, empty on success
	Message string
}

func ok() Result { return Result{OK: true} }

func fail(code, format string, args ...any) Result {
	return Result{Code: code, Message: fmt.Sprintf(format, args...)}
}

type RequestResult struct {
	Result
	TradeID       string
	CooldownTicks uint64 // set on E_RATE_LIMIT
}

type ReadyResult struct {
	Result
	BothReady bool
}

type ConfirmResult struct {
	Result
	Executed bool
}

// NotifyFunc receives every outbound protocol notification. A nil sink
// drops notifications without buffering.
type NotifyFunc func(protocol.Notification)

// AuditLogger records trade lifecycle events. May be nil.
type AuditLogger interface {
	Audit(e AuditEntry)
}

type AuditEntry struct {
	Tick    uint64         `json:"t"`
	Type    string         `json:"type"`
	TradeID string         `json:"trade_id"`
	Data    map[string]any `json:"data,omitempty"`
}

type Limits struct {
	MaxOfferItems      int
	RequestWindowTicks uint64
	RequestMax         int
}

func DefaultLimits() Limits {
	return Limits{MaxOfferItems: MaxOfferItems}
}

type rateWindow struct {
	StartTick uint64
	Count     int
}

// Service owns the invitation and active-trade registries for one world
// shard. All registry state lives here so shards stay isolated and tests
// can run in parallel.
type Service struct {
	mu     sync.Mutex
	limits Limits
	notify NotifyFunc
	audit  AuditLogger

	invites         map[string]*Invitation // trade id -> pending invitation
	inviteByPair    map[string]string      // unordered pair key -> trade id
	invitesByPlayer map[string]map[string]struct{}

	trades         map[string]*Trade // trade id -> active trade
	tradeByPair    map[string]string
	tradesByPlayer map[string]map[string]struct{}

	rl map[string]*rateWindow // per-initiator REQUEST_TRADE windows

	nextTradeNum uint64
	now          func() time.Time
}

func NewService(limits Limits) *Service {
	if limits.MaxOfferItems <= 0 {
		limits.MaxOfferItems = MaxOfferItems
	}
	return &Service{
		limits:          limits,
		invites:         map[string]*Invitation{},
		inviteByPair:    map[string]string{},
		invitesByPlayer: map[string]map[string]struct{}{},
		trades:          map[string]*Trade{},
		tradeByPair:     map[string]string{},
		tradesByPlayer:  map[string]map[string]struct{}{},
		rl:              map[string]*rateWindow{},
		now:             time.Now,
	}
}

// SetNotifySink registers the single outbound notification callback.
func (s *Service) SetNotifySink(fn NotifyFunc) {
	s.mu.Lock()
	s.notify = fn
	s.mu.Unlock()
}

func (s *Service) SetAuditLogger(l AuditLogger) {
	s.mu.Lock()
	s.audit = l
	s.mu.Unlock()
}

// sendLocked emits a notification; dropped when no sink is registered.
func (s *Service) sendLocked(n protocol.Notification) {
	if s.notify != nil {
		s.notify(n)
	}
}

func (s *Service) auditLocked(e AuditEntry) {
	if s.audit != nil {
		s.audit.Audit(e)
	}
}

func (s *Service) newTradeIDLocked() string {
	s.nextTradeNum++
	return fmt.Sprintf("trade_%d_%d", s.nextTradeNum, s.now().Unix())
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

func addIndex(idx map[string]map[string]struct{}, player, tradeID string) {
	set, ok := idx[player]
	if !ok {
		set = map[string]struct{}{}
		idx[player] = set
	}
	set[tradeID] = struct{}{}
}

func dropIndex(idx map[string]map[string]struct{}, player, tradeID string) {
	if set, ok := idx[player]; ok {
		delete(set, tradeID)
		if len(set) == 0 {
			delete(idx, player)
		}
	}
}

func (s *Service) removeInviteLocked(inv *Invitation) {
	delete(s.invites, inv.TradeID)
	delete(s.inviteByPair, pairKey(inv.From, inv.To))
	dropIndex(s.invitesByPlayer, inv.From, inv.TradeID)
	dropIndex(s.invitesByPlayer, inv.To, inv.TradeID)
}

func (s *Service) removeTradeLocked(t *Trade) {
	delete(s.trades, t.TradeID)
	delete(s.tradeByPair, pairKey(t.P1.Player, t.P2.Player))
	dropIndex(s.tradesByPlayer, t.P1.Player, t.TradeID)
	dropIndex(s.tradesByPlayer, t.P2.Player, t.TradeID)
}

func (s *Service) requestAllowLocked(initiator string, nowTick uint64) (bool, uint64) {
	if s.limits.RequestWindowTicks == 0 || s.limits.RequestMax <= 0 {
		return true, 0
	}
	w, okk := s.rl[initiator]
	if !okk {
		w = &rateWindow{StartTick: nowTick}
		s.rl[initiator] = w
	}
	if nowTick-w.StartTick >= s.limits.RequestWindowTicks {
		w.StartTick = nowTick
		w.Count = 0
	}
	w.Count++
	if w.Count <= s.limits.RequestMax {
		return true, 0
	}
	return false, (w.StartTick + s.limits.RequestWindowTicks) - nowTick
}

// RequestTrade creates a pending invitation from initiator to target and
// notifies the target. At most one invitation or active trade may exist per
// unordered player pair.
func (s *Service) RequestTrade(initiator, target string, pos *[3]int, nowTick uint64) RequestResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if initiator == "" || target == "" {
		return RequestResult{Result: fail(protocol.ErrBadRequest, "missing player")}
	}
	if initiator == target {
		return RequestResult{Result: fail(protocol.ErrBadRequest, "cannot trade with yourself")}
	}
	if allow, cd := s.requestAllowLocked(initiator, nowTick); !allow {
		r := RequestResult{Result: fail(protocol.ErrRateLimit, "too many trade requests"), CooldownTicks: cd}
		return r
	}
	key := pairKey(initiator, target)
	if _, exists := s.inviteByPair[key]; exists {
		return RequestResult{Result: fail(protocol.ErrConflict, "already a pending trade invitation with %s", target)}
	}
	if _, exists := s.tradeByPair[key]; exists {
		return RequestResult{Result: fail(protocol.ErrConflict, "already trading with %s", target)}
	}

	inv := &Invitation{
		TradeID:     s.newTradeIDLocked(),
		From:        initiator,
		To:          target,
		CreatedTick: nowTick,
		Pos:         pos,
	}
	s.invites[inv.TradeID] = inv
	s.inviteByPair[key] = inv.TradeID
	addIndex(s.invitesByPlayer, initiator, inv.TradeID)
	addIndex(s.invitesByPlayer, target, inv.TradeID)

	s.sendLocked(protocol.Notification{
		Type: protocol.TypeTradeOffer,
		From: initiator,
		To:   target,
		Payload: map[string]any{
			"tradeId":      inv.TradeID,
			"targetPlayer": target,
		},
	})
	return RequestResult{Result: ok(), TradeID: inv.TradeID}
}

// AcceptTrade promotes a pending invitation into an active trade with empty
// offers on both sides.
func (s *Service) AcceptTrade(tradeID, acceptor string, nowTick uint64) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, okk := s.invites[tradeID]
	if !okk {
		return fail(protocol.ErrInvalidTarget, "trade not found")
	}
	if inv.To != acceptor {
		return fail(protocol.ErrNoPermission, "only the recipient can accept this trade")
	}
	s.removeInviteLocked(inv)

	t := &Trade{
		TradeID:     inv.TradeID,
		Status:      StatusActive,
		CreatedTick: nowTick,
		P1:          Participant{Player: inv.From},
		P2:          Participant{Player: inv.To},
	}
	s.trades[t.TradeID] = t
	s.tradeByPair[pairKey(t.P1.Player, t.P2.Player)] = t.TradeID
	addIndex(s.tradesByPlayer, t.P1.Player, t.TradeID)
	addIndex(s.tradesByPlayer, t.P2.Player, t.TradeID)

	s.sendLocked(protocol.Notification{
		Type:    protocol.TypeTradeAccept,
		From:    acceptor,
		To:      inv.From,
		Payload: map[string]any{"tradeId": t.TradeID},
	})
	return ok()
}

// DeclineTrade removes a pending invitation and tells the initiator.
func (s *Service) DeclineTrade(tradeID, decliner string, nowTick uint64) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, okk := s.invites[tradeID]
	if !okk {
		return fail(protocol.ErrInvalidTarget, "trade not found")
	}
	if inv.To != decliner {
		return fail(protocol.ErrNoPermission, "only the recipient can decline this trade")
	}
	s.removeInviteLocked(inv)

	s.auditLocked(AuditEntry{Tick: nowTick, Type: "DECLINE", TradeID: inv.TradeID, Data: map[string]any{
		"from": inv.From, "to": inv.To,
	}})
	s.sendLocked(protocol.Notification{
		Type:    protocol.TypeTradeDecline,
		From:    decliner,
		To:      inv.From,
		Payload: map[string]any{"tradeId": inv.TradeID, "reason": "declined"},
	})
	return ok()
}

// CancelTrade withdraws a pending invitation (initiator only) or aborts an
// active trade (either participant).
func (s *Service) CancelTrade(tradeID, caller string, nowTick uint64) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if inv, okk := s.invites[tradeID]; okk {
		if caller == inv.To {
			return fail(protocol.ErrNoPermission, "only the sender can cancel a pending invitation")
		}
		if caller != inv.From {
			return fail(protocol.ErrNoPermission, "not part of trade")
		}
		s.removeInviteLocked(inv)
		s.auditLocked(AuditEntry{Tick: nowTick, Type: "CANCEL", TradeID: inv.TradeID, Data: map[string]any{
			"by": caller, "pending": true,
		}})
		s.sendLocked(protocol.Notification{
			Type:    protocol.TypeTradeDecline,
			From:    caller,
			To:      inv.To,
			Payload: map[string]any{"tradeId": inv.TradeID, "reason": "cancelled"},
		})
		return ok()
	}

	t, okk := s.trades[tradeID]
	if !okk {
		return fail(protocol.ErrInvalidTarget, "trade not found")
	}
	other := t.counterpart(caller)
	if other == nil {
		return fail(protocol.ErrNoPermission, "not part of trade")
	}
	t.Status = StatusCancelled
	s.removeTradeLocked(t)
	s.auditLocked(AuditEntry{Tick: nowTick, Type: "CANCEL", TradeID: t.TradeID, Data: map[string]any{
		"by": caller,
	}})
	s.sendLocked(protocol.Notification{
		Type:    protocol.TypeTradeDecline,
		From:    caller,
		To:      other.Player,
		Payload: map[string]any{"tradeId": t.TradeID, "reason": "cancelled"},
	})
	return ok()
}

// Participants reports both player ids of an active trade.
func (s *Service) Participants(tradeID string) (p1, p2 string, found bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, okk := s.trades[tradeID]
	if !okk {
		return "", "", false
	}
	return t.P1.Player, t.P2.Player, true
}

// TradesFor returns the active trade ids the player participates in.
func (s *Service) TradesFor(player string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.tradesByPlayer[player]))
	for id := range s.tradesByPlayer[player] {
		out = append(out, id)
	}
	return out
}

// InvitesFor returns the pending invitation ids addressed to the player.
func (s *Service) InvitesFor(player string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []string{}
	for id := range s.invitesByPlayer[player] {
		if inv := s.invites[id]; inv != nil && inv.To == player {
			out = append(out, id)
		}
	}
	return out
}
