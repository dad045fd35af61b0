package trade

import (
	"embervale.gg/internal/protocol"
	"embervale.gg/internal/sim/economy"
)

// Confirm is the second consent phase. The first caller is parked as
// waiting (Executed=false); the second triggers settlement. inv1/inv2 are
// the live inventories of P1 and P2.
func (s *Service) Confirm(tradeID, player string, inv1, inv2 economy.Inventory, led economy.Ledger, nowTick uint64) ConfirmResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, p, res := s.activeParticipantLocked(tradeID, player)
	if !res.OK {
		return ConfirmResult{Result: res}
	}
	if !t.bothReady() {
		return ConfirmResult{Result: fail(protocol.ErrConflict, "both players must be ready before confirming")}
	}
	p.Confirmed = true
	other := t.counterpart(player)
	if !other.Confirmed {
		s.sendLocked(protocol.Notification{
			Type:    protocol.TypeTradeAccept,
			From:    player,
			To:      other.Player,
			Payload: map[string]any{"tradeId": t.TradeID, "confirmed": true},
		})
		return ConfirmResult{Result: ok(), Executed: false}
	}
	return s.settleLocked(t, inv1, inv2, led, nowTick)
}

// settleLocked re-validates both sides against live resources and applies
// the exchange all-or-nothing. Nothing is mutated on any failure path.
func (s *Service) settleLocked(t *Trade, inv1, inv2 economy.Inventory, led economy.Ledger, nowTick uint64) ConfirmResult {
	if msg := validateSide(t.P1, inv1, led); msg != "" {
		return s.settleFailedLocked(t, "player 1 "+msg)
	}
	if msg := validateSide(t.P2, inv2, led); msg != "" {
		return s.settleFailedLocked(t, "player 2 "+msg)
	}
	// Receiving capacity counts too: Add drops on a full inventory, which
	// would destroy the transferred stack. Slots freed by a side's own
	// outgoing items are credited, since removals land first.
	stacks1, stacks2 := offeredStacks(t.P1.Items), offeredStacks(t.P2.Items)
	if !inv1.CanFit(stacks2, stacks1) {
		return s.settleFailedLocked(t, "player 1 cannot hold the offered items")
	}
	if !inv2.CanFit(stacks1, stacks2) {
		return s.settleFailedLocked(t, "player 2 cannot hold the offered items")
	}

	for _, it := range t.P1.Items {
		inv1.Remove(it.Item, it.Count)
	}
	for _, it := range t.P2.Items {
		inv2.Remove(it.Item, it.Count)
	}
	for _, it := range t.P1.Items {
		inv2.Add(it.Item, it.Count)
	}
	for _, it := range t.P2.Items {
		inv1.Add(it.Item, it.Count)
	}

	var sparkErrs []string
	if t.P1.Spark > 0 {
		if err := led.Transfer("trade", t.P1.Player, t.P2.Player, t.P1.Spark); err != nil {
			sparkErrs = append(sparkErrs, err.Error())
		}
	}
	if t.P2.Spark > 0 {
		if err := led.Transfer("trade", t.P2.Player, t.P1.Player, t.P2.Spark); err != nil {
			sparkErrs = append(sparkErrs, err.Error())
		}
	}

	t.Status = StatusCompleted
	s.removeTradeLocked(t)

	data := map[string]any{
		"player1": t.P1.Player,
		"player2": t.P2.Player,
		"items1":  t.P1.Items,
		"items2":  t.P2.Items,
		"spark1":  t.P1.Spark,
		"spark2":  t.P2.Spark,
	}
	if len(sparkErrs) > 0 {
		// The ledger has its own lock: a writer racing between validation
		// and transfer can still bounce the spark leg. Keep the evidence.
		data["spark_errors"] = sparkErrs
	}
	s.auditLocked(AuditEntry{Tick: nowTick, Type: "SETTLE", TradeID: t.TradeID, Data: data})
	done := map[string]any{"tradeId": t.TradeID, "status": "completed"}
	s.sendLocked(protocol.Notification{Type: protocol.TypeTradeAccept, From: t.P1.Player, To: t.P2.Player, Payload: done})
	s.sendLocked(protocol.Notification{Type: protocol.TypeTradeAccept, From: t.P2.Player, To: t.P1.Player, Payload: done})
	return ConfirmResult{Result: ok(), Executed: true}
}

// settleFailedLocked handles resource drift between readiness and
// confirmation. Both confirmations are void; the pair has to re-consent
// after fixing the offer. Snapshots go out so neither client sits waiting
// on a confirmation that can no longer land.
func (s *Service) settleFailedLocked(t *Trade, msg string) ConfirmResult {
	t.resetConsent()
	s.snapshotToCounterpartLocked(t, t.P1.Player)
	s.snapshotToCounterpartLocked(t, t.P2.Player)
	return ConfirmResult{Result: fail(protocol.ErrNoResource, "%s", msg)}
}

func offeredStacks(items []OfferedItem) []economy.ItemStack {
	out := make([]economy.ItemStack, 0, len(items))
	for _, it := range items {
		out = append(out, economy.ItemStack{Item: it.Item, Count: it.Count})
	}
	return out
}

// validateSide checks the declared offer against live resources. The slot
// must still hold the declared stack: an item swapped into the same slot
// after readiness must not settle.
func validateSide(p Participant, inv economy.Inventory, led economy.Ledger) string {
	for _, it := range p.Items {
		st, okk := inv.Slot(it.SourceSlot)
		if !okk || st.Item != it.Item || st.Count < it.Count {
			return "no longer has the offered items"
		}
	}
	if p.Spark > led.Balance(p.Player) {
		return "has insufficient spark"
	}
	return ""
}
