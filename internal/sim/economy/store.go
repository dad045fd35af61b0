package economy

import "sync"

// Store owns the per-player inventories and the ledger for one world shard.
type Store struct {
	mu        sync.Mutex
	slotCount int
	invs      map[string]*SlotInventory
	ledger    *MemLedger
}

func NewStore(slotCount, startingSpark int) *Store {
	return &Store{
		slotCount: slotCount,
		invs:      map[string]*SlotInventory{},
		ledger:    NewMemLedger(startingSpark),
	}
}

// InventoryFor returns the player's inventory, creating an empty one on
// first touch.
func (s *Store) InventoryFor(player string) *SlotInventory {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invs[player]
	if !ok {
		inv = NewSlotInventory(s.slotCount)
		s.invs[player] = inv
	}
	return inv
}

func (s *Store) Ledger() *MemLedger { return s.ledger }
