package trade

import (
	"errors"
	"strings"
	"testing"

	"embervale.gg/internal/protocol"
	"embervale.gg/internal/sim/economy"
)

func TestConfirm_RequiresBothReady(t *testing.T) {
	s, _, id := setupActive(t)
	inv1 := economy.NewSlotInventory(9)
	inv2 := economy.NewSlotInventory(9)
	led := economy.NewMemLedger(100)

	r := s.Confirm(id, "alice", inv1, inv2, led, 5)
	if r.OK || !strings.Contains(r.Message, "ready") {
		t.Fatalf("confirm before ready: %+v", r)
	}
	s.SetReady(id, "alice", 6)
	r = s.Confirm(id, "alice", inv1, inv2, led, 6)
	if r.OK {
		t.Fatalf("confirm with one side ready must fail")
	}
}

// Full item-swap round trip: request, accept, offer, ready, confirm twice.
func TestSettlement_ItemSwap(t *testing.T) {
	s, rec, id := setupActive(t)
	inv1 := economy.NewSlotInventory(9)
	inv2 := economy.NewSlotInventory(9)
	inv1.Set(0, "iron_sword", 1)
	inv2.Set(0, "oak_shield", 1)
	led := economy.NewMemLedger(100)

	if res := s.AddItem(id, "alice", 0, inv1, 5); !res.OK {
		t.Fatalf("alice add: %s", res.Message)
	}
	if res := s.AddItem(id, "bob", 0, inv2, 5); !res.OK {
		t.Fatalf("bob add: %s", res.Message)
	}
	s.SetReady(id, "alice", 6)
	s.SetReady(id, "bob", 6)

	r1 := s.Confirm(id, "alice", inv1, inv2, led, 7)
	if !r1.OK || r1.Executed {
		t.Fatalf("first confirm: %+v", r1)
	}
	// Counterpart is told alice confirmed.
	n := rec.last()
	if n.Type != protocol.TypeTradeAccept || n.To != "bob" || n.Payload["confirmed"] != true {
		t.Fatalf("confirm notification = %+v", n)
	}

	r2 := s.Confirm(id, "bob", inv1, inv2, led, 8)
	if !r2.OK || !r2.Executed {
		t.Fatalf("second confirm: %+v", r2)
	}

	if inv1.Has("iron_sword", 1) || !inv1.Has("oak_shield", 1) {
		t.Fatalf("alice inventory wrong after settlement")
	}
	if inv2.Has("oak_shield", 1) || !inv2.Has("iron_sword", 1) {
		t.Fatalf("bob inventory wrong after settlement")
	}
	if _, _, found := s.Participants(id); found {
		t.Fatalf("settled trade must be deleted")
	}
	n = rec.last()
	if n.Type != protocol.TypeTradeAccept || n.Payload["status"] != "completed" {
		t.Fatalf("completion notification = %+v", n)
	}
}

func TestSettlement_SparkConservation(t *testing.T) {
	s, _, id := setupActive(t)
	inv1 := economy.NewSlotInventory(9)
	inv2 := economy.NewSlotInventory(9)
	led := economy.NewMemLedger(0)
	led.SetBalance("alice", 50)
	led.SetBalance("bob", 30)

	if res := s.SetSpark(id, "alice", 20, led, 5); !res.OK {
		t.Fatalf("alice spark: %s", res.Message)
	}
	if res := s.SetSpark(id, "bob", 10, led, 5); !res.OK {
		t.Fatalf("bob spark: %s", res.Message)
	}
	s.SetReady(id, "alice", 6)
	s.SetReady(id, "bob", 6)
	s.Confirm(id, "alice", inv1, inv2, led, 7)
	r := s.Confirm(id, "bob", inv1, inv2, led, 7)
	if !r.OK || !r.Executed {
		t.Fatalf("settle: %+v", r)
	}

	if got := led.Balance("alice"); got != 40 {
		t.Fatalf("alice balance = %d, want 40", got)
	}
	if got := led.Balance("bob"); got != 40 {
		t.Fatalf("bob balance = %d, want 40", got)
	}
	if total := led.Balance("alice") + led.Balance("bob"); total != 80 {
		t.Fatalf("spark not conserved: %d", total)
	}
	txns := led.Txns()
	if len(txns) != 2 || txns[0].Type != "trade" || txns[0].Amount != 20 || txns[1].Amount != 10 {
		t.Fatalf("txns = %+v", txns)
	}
}

// Resource drift after readiness: the settlement re-validation must catch
// it, name the failing side, and mutate nothing.
func TestSettlement_DriftAbortsWithoutMutation(t *testing.T) {
	s, _, id := setupActive(t)
	inv1 := economy.NewSlotInventory(9)
	inv2 := economy.NewSlotInventory(9)
	inv1.Set(0, "iron_sword", 1)
	inv2.Set(0, "oak_shield", 1)
	led := economy.NewMemLedger(0)
	led.SetBalance("alice", 50)
	led.SetBalance("bob", 30)

	s.AddItem(id, "alice", 0, inv1, 5)
	s.AddItem(id, "bob", 0, inv2, 5)
	s.SetSpark(id, "bob", 10, led, 5)
	s.SetReady(id, "alice", 6)
	s.SetReady(id, "bob", 6)
	if r := s.Confirm(id, "alice", inv1, inv2, led, 7); !r.OK || r.Executed {
		t.Fatalf("first confirm: %+v", r)
	}

	// Something else takes alice's sword before bob confirms.
	inv1.Remove("iron_sword", 1)

	r := s.Confirm(id, "bob", inv1, inv2, led, 8)
	if r.OK || r.Executed {
		t.Fatalf("drifted settlement must fail: %+v", r)
	}
	if !strings.HasPrefix(r.Message, "player 1") {
		t.Fatalf("message = %q, want the failing side named", r.Message)
	}
	if !inv2.Has("oak_shield", 1) || inv2.Has("iron_sword", 1) {
		t.Fatalf("bob's inventory mutated on failed settlement")
	}
	if led.Balance("alice") != 50 || led.Balance("bob") != 30 {
		t.Fatalf("balances mutated on failed settlement")
	}

	// Both consents are void; the trade survives and can recover.
	tr := s.trades[id]
	if tr == nil {
		t.Fatalf("trade must survive a failed settlement")
	}
	if tr.P1.Ready || tr.P2.Ready || tr.P1.Confirmed || tr.P2.Confirmed {
		t.Fatalf("consent flags not cleared: %+v %+v", tr.P1, tr.P2)
	}

	// Fresh cycle after the sword comes back.
	inv1.Set(0, "iron_sword", 1)
	s.SetReady(id, "alice", 9)
	s.SetReady(id, "bob", 9)
	s.Confirm(id, "alice", inv1, inv2, led, 10)
	if r := s.Confirm(id, "bob", inv1, inv2, led, 10); !r.OK || !r.Executed {
		t.Fatalf("recovery settle: %+v", r)
	}
	if led.Balance("alice") != 60 || led.Balance("bob") != 20 {
		t.Fatalf("recovery balances = %d/%d", led.Balance("alice"), led.Balance("bob"))
	}
}

func TestSettlement_SparkDriftNamesPlayerTwo(t *testing.T) {
	s, _, id := setupActive(t)
	inv1 := economy.NewSlotInventory(9)
	inv2 := economy.NewSlotInventory(9)
	led := economy.NewMemLedger(0)
	led.SetBalance("alice", 50)
	led.SetBalance("bob", 30)

	s.SetSpark(id, "bob", 30, led, 5)
	s.SetReady(id, "alice", 6)
	s.SetReady(id, "bob", 6)
	s.Confirm(id, "alice", inv1, inv2, led, 7)

	// Bob spends elsewhere between readiness and confirmation.
	led.SetBalance("bob", 5)

	r := s.Confirm(id, "bob", inv1, inv2, led, 8)
	if r.OK {
		t.Fatalf("expected spark drift failure")
	}
	if !strings.HasPrefix(r.Message, "player 2") || !strings.Contains(r.Message, "insufficient") {
		t.Fatalf("message = %q", r.Message)
	}
}

func TestSettlement_ItemConservation(t *testing.T) {
	s, _, id := setupActive(t)
	inv1 := economy.NewSlotInventory(9)
	inv2 := economy.NewSlotInventory(9)
	inv1.Set(0, "apple", 5)
	inv1.Set(1, "plank", 2)
	inv2.Set(0, "stone", 7)
	led := economy.NewMemLedger(10)

	s.AddItem(id, "alice", 0, inv1, 5)
	s.AddItem(id, "alice", 1, inv1, 5)
	s.AddItem(id, "bob", 0, inv2, 5)
	s.SetReady(id, "alice", 6)
	s.SetReady(id, "bob", 6)
	s.Confirm(id, "alice", inv1, inv2, led, 7)
	if r := s.Confirm(id, "bob", inv1, inv2, led, 7); !r.OK || !r.Executed {
		t.Fatalf("settle: %+v", r)
	}

	// Everything that left one side arrived on the other, nothing else.
	if !inv2.Has("apple", 5) || !inv2.Has("plank", 2) || inv2.Has("stone", 1) {
		t.Fatalf("bob's post-settlement inventory wrong")
	}
	if !inv1.Has("stone", 7) || inv1.Has("apple", 1) || inv1.Has("plank", 1) {
		t.Fatalf("alice's post-settlement inventory wrong")
	}
}

// A receiver with no room must abort settlement; Add would silently drop
// the stack and the item would leave one side without reaching the other.
func TestSettlement_FullReceiverAborts(t *testing.T) {
	s, _, id := setupActive(t)
	inv1 := economy.NewSlotInventory(9)
	inv1.Set(0, "iron_sword", 1)
	inv2 := economy.NewSlotInventory(2)
	inv2.Set(0, "dirt", 10)
	inv2.Set(1, "stone", 5)
	led := economy.NewMemLedger(100)

	if res := s.AddItem(id, "alice", 0, inv1, 5); !res.OK {
		t.Fatalf("add: %s", res.Message)
	}
	s.SetReady(id, "alice", 6)
	s.SetReady(id, "bob", 6)
	s.Confirm(id, "alice", inv1, inv2, led, 7)

	r := s.Confirm(id, "bob", inv1, inv2, led, 8)
	if r.OK || r.Executed {
		t.Fatalf("settlement into a full inventory must fail: %+v", r)
	}
	if !strings.HasPrefix(r.Message, "player 2") || !strings.Contains(r.Message, "cannot hold") {
		t.Fatalf("message = %q, want the failing side named", r.Message)
	}
	// Conservation: the sword never left, nothing else moved.
	if !inv1.Has("iron_sword", 1) {
		t.Fatalf("alice's sword vanished on aborted settlement")
	}
	if inv2.Has("iron_sword", 1) || !inv2.Has("dirt", 10) || !inv2.Has("stone", 5) {
		t.Fatalf("bob's inventory mutated on aborted settlement")
	}
	tr := s.trades[id]
	if tr == nil || tr.P1.Ready || tr.P2.Confirmed {
		t.Fatalf("trade must survive with consent cleared")
	}

	// Bob makes room; a fresh cycle settles.
	inv2.Remove("stone", 5)
	s.SetReady(id, "alice", 9)
	s.SetReady(id, "bob", 9)
	s.Confirm(id, "alice", inv1, inv2, led, 10)
	if r := s.Confirm(id, "bob", inv1, inv2, led, 10); !r.OK || !r.Executed {
		t.Fatalf("settle after making room: %+v", r)
	}
	if !inv2.Has("iron_sword", 1) || inv1.Has("iron_sword", 1) {
		t.Fatalf("sword did not move after making room")
	}
}

// Both inventories full, one stack each way: the slots freed by each
// side's outgoing items make room for the incoming ones.
func TestSettlement_SwapBetweenFullInventories(t *testing.T) {
	s, _, id := setupActive(t)
	inv1 := economy.NewSlotInventory(1)
	inv1.Set(0, "iron_sword", 1)
	inv2 := economy.NewSlotInventory(1)
	inv2.Set(0, "oak_shield", 1)
	led := economy.NewMemLedger(100)

	s.AddItem(id, "alice", 0, inv1, 5)
	s.AddItem(id, "bob", 0, inv2, 5)
	s.SetReady(id, "alice", 6)
	s.SetReady(id, "bob", 6)
	s.Confirm(id, "alice", inv1, inv2, led, 7)
	if r := s.Confirm(id, "bob", inv1, inv2, led, 7); !r.OK || !r.Executed {
		t.Fatalf("full-for-full swap must settle: %+v", r)
	}
	if !inv1.Has("oak_shield", 1) || !inv2.Has("iron_sword", 1) {
		t.Fatalf("swap did not land")
	}
}

// flakyLedger validates like the real one but bounces transfers, standing
// in for a concurrent writer draining the balance mid-settlement.
type flakyLedger struct {
	*economy.MemLedger
}

func (f *flakyLedger) Transfer(kind, from, to string, amount int) error {
	return errors.New("ledger unavailable")
}

func TestSettlement_SparkTransferErrorAudited(t *testing.T) {
	s, _, id := setupActive(t)
	rec := &auditRec{}
	s.SetAuditLogger(rec)
	inv1 := economy.NewSlotInventory(9)
	inv2 := economy.NewSlotInventory(9)
	led := &flakyLedger{MemLedger: economy.NewMemLedger(100)}

	s.SetSpark(id, "alice", 20, led, 5)
	s.SetReady(id, "alice", 6)
	s.SetReady(id, "bob", 6)
	s.Confirm(id, "alice", inv1, inv2, led, 7)
	if r := s.Confirm(id, "bob", inv1, inv2, led, 8); !r.OK || !r.Executed {
		t.Fatalf("settle: %+v", r)
	}

	if len(rec.entries) != 1 || rec.entries[0].Type != "SETTLE" {
		t.Fatalf("audit entries = %+v", rec.entries)
	}
	errs, _ := rec.entries[0].Data["spark_errors"].([]string)
	if len(errs) != 1 || errs[0] != "ledger unavailable" {
		t.Fatalf("spark_errors = %+v", rec.entries[0].Data["spark_errors"])
	}
}

func TestParticipantsFixedForLifetime(t *testing.T) {
	s, _, id := setupActive(t)
	inv := economy.NewSlotInventory(9)
	inv.Set(0, "apple", 1)
	led := economy.NewMemLedger(100)

	p1a, p2a, _ := s.Participants(id)
	s.AddItem(id, "alice", 0, inv, 5)
	s.SetSpark(id, "bob", 5, led, 5)
	s.SetReady(id, "alice", 6)
	p1b, p2b, _ := s.Participants(id)
	if p1a != p1b || p2a != p2b {
		t.Fatalf("participants changed: %s/%s -> %s/%s", p1a, p2a, p1b, p2b)
	}
}
