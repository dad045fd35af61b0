package trade

// MaxOfferItems is the default per-side cap on offered items.
const MaxOfferItems = 6

type Status string

const (
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// Phase is the negotiation state derived from the participants' consent
// flags. Mutating an offer while Ready or Confirming drops the trade back
// to Negotiating because the flags are cleared together.
type Phase int

const (
	PhaseNegotiating Phase = iota
	PhaseReady
	PhaseConfirming
	PhaseSettled
	PhaseCancelled
)

func (p Phase) String() string {
	switch p {
	case PhaseNegotiating:
		return "negotiating"
	case PhaseReady:
		return "ready"
	case PhaseConfirming:
		return "confirming"
	case PhaseSettled:
		return "settled"
	case PhaseCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Invitation is a one-directional, not-yet-accepted trade proposal.
type Invitation struct {
	TradeID     string
	From        string
	To          string
	CreatedTick uint64
	Pos         *[3]int // world position context, optional
}

// OfferedItem names a stack in the owner's inventory by source slot. The
// stack contents are captured at add time and re-validated at settlement.
type OfferedItem struct {
	SourceSlot int    `json:"source_slot"`
	Item       string `json:"item"`
	Count      int    `json:"count"`
}

type Participant struct {
	Player    string
	Items     []OfferedItem
	Spark     int
	Ready     bool
	Confirmed bool
}

// Trade is an accepted, in-progress two-party negotiation. P1 is the
// original initiator, P2 the acceptor; both are fixed for the trade's
// lifetime.
type Trade struct {
	TradeID     string
	Status      Status
	CreatedTick uint64
	P1          Participant
	P2          Participant
}

func (t *Trade) participant(player string) *Participant {
	switch player {
	case t.P1.Player:
		return &t.P1
	case t.P2.Player:
		return &t.P2
	}
	return nil
}

func (t *Trade) counterpart(player string) *Participant {
	switch player {
	case t.P1.Player:
		return &t.P2
	case t.P2.Player:
		return &t.P1
	}
	return nil
}

// resetConsent clears readiness on both sides. Confirmed is cleared too:
// a confirmation can only exist while both sides are ready, so any path
// that invalidates readiness invalidates confirmation with it.
func (t *Trade) resetConsent() {
	t.P1.Ready = false
	t.P2.Ready = false
	t.P1.Confirmed = false
	t.P2.Confirmed = false
}

func (t *Trade) bothReady() bool { return t.P1.Ready && t.P2.Ready }

func (t *Trade) Phase() Phase {
	switch {
	case t.Status == StatusCancelled:
		return PhaseCancelled
	case t.Status == StatusCompleted:
		return PhaseSettled
	case t.P1.Confirmed || t.P2.Confirmed:
		return PhaseConfirming
	case t.bothReady():
		return PhaseReady
	}
	return PhaseNegotiating
}

// snapshot is the trade_offer update payload sent to clients after every
// accepted mutation.
func (t *Trade) snapshot() map[string]any {
	return map[string]any{
		"tradeId": t.TradeID,
		"player1": participantSnapshot(t.P1),
		"player2": participantSnapshot(t.P2),
		"status":  string(t.Status),
		"phase":   t.Phase().String(),
	}
}

func participantSnapshot(p Participant) map[string]any {
	items := make([]map[string]any, 0, len(p.Items))
	for _, it := range p.Items {
		items = append(items, map[string]any{
			"source_slot": it.SourceSlot,
			"item":        it.Item,
			"count":       it.Count,
		})
	}
	return map[string]any{
		"player":    p.Player,
		"items":     items,
		"spark":     p.Spark,
		"ready":     p.Ready,
		"confirmed": p.Confirmed,
	}
}
