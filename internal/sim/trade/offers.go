package trade

import (
	"embervale.gg/internal/protocol"
	"embervale.gg/internal/sim/economy"
)

// activeParticipantLocked resolves an active trade and the caller's side.
func (s *Service) activeParticipantLocked(tradeID, player string) (*Trade, *Participant, Result) {
	t, okk := s.trades[tradeID]
	if !okk {
		return nil, nil, fail(protocol.ErrInvalidTarget, "trade not found")
	}
	p := t.participant(player)
	if p == nil {
		return nil, nil, fail(protocol.ErrNoPermission, "not part of trade")
	}
	return t, p, ok()
}

// snapshotToCounterpartLocked pushes the current offer state to the other
// side so clients render live terms.
func (s *Service) snapshotToCounterpartLocked(t *Trade, actor string) {
	other := t.counterpart(actor)
	if other == nil {
		return
	}
	s.sendLocked(protocol.Notification{
		Type:    protocol.TypeTradeOffer,
		From:    actor,
		To:      other.Player,
		Payload: t.snapshot(),
	})
}

// AddItem appends the stack in the player's inventory slot to their offer.
// Changed terms require mutual re-acknowledgment, so both ready flags drop.
func (s *Service) AddItem(tradeID, player string, sourceSlot int, inv economy.Inventory, nowTick uint64) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, p, res := s.activeParticipantLocked(tradeID, player)
	if !res.OK {
		return res
	}
	st, okk := inv.Slot(sourceSlot)
	if !okk {
		return fail(protocol.ErrNoResource, "no item in inventory slot %d", sourceSlot)
	}
	if len(p.Items) >= s.limits.MaxOfferItems {
		return fail(protocol.ErrConflict, "trade offer is full (max %d items)", s.limits.MaxOfferItems)
	}
	for _, it := range p.Items {
		if it.SourceSlot == sourceSlot {
			return fail(protocol.ErrConflict, "inventory slot %d already offered", sourceSlot)
		}
	}
	p.Items = append(p.Items, OfferedItem{SourceSlot: sourceSlot, Item: st.Item, Count: st.Count})
	t.resetConsent()
	s.snapshotToCounterpartLocked(t, player)
	return ok()
}

// RemoveItem drops entry offerSlot from the player's own offered-items
// sequence. offerSlot indexes the offer, not the inventory.
func (s *Service) RemoveItem(tradeID, player string, offerSlot int, nowTick uint64) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, p, res := s.activeParticipantLocked(tradeID, player)
	if !res.OK {
		return res
	}
	if offerSlot < 0 || offerSlot >= len(p.Items) {
		return fail(protocol.ErrBadRequest, "invalid slot %d", offerSlot)
	}
	p.Items = append(p.Items[:offerSlot], p.Items[offerSlot+1:]...)
	t.resetConsent()
	s.snapshotToCounterpartLocked(t, player)
	return ok()
}

// SetSpark replaces the player's currency offer. The amount is bounded by
// the live ledger balance at call time; settlement re-checks it.
func (s *Service) SetSpark(tradeID, player string, amount int, led economy.Ledger, nowTick uint64) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, p, res := s.activeParticipantLocked(tradeID, player)
	if !res.OK {
		return res
	}
	if amount < 0 {
		return fail(protocol.ErrBadRequest, "spark offer must be non-negative")
	}
	if amount > led.Balance(player) {
		return fail(protocol.ErrNoResource, "insufficient spark (balance %d)", led.Balance(player))
	}
	p.Spark = amount
	t.resetConsent()
	s.snapshotToCounterpartLocked(t, player)
	return ok()
}

// SetReady marks the caller's consent to the current terms. Settlement is
// never triggered here; both sides still have to confirm.
func (s *Service) SetReady(tradeID, player string, nowTick uint64) ReadyResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, p, res := s.activeParticipantLocked(tradeID, player)
	if !res.OK {
		return ReadyResult{Result: res}
	}
	p.Ready = true
	s.snapshotToCounterpartLocked(t, player)
	return ReadyResult{Result: ok(), BothReady: t.bothReady()}
}
