package economy

// ItemStack is one inventory slot's contents.
type ItemStack struct {
	Item  string
	Count int
}

// Inventory is the collaborator trades settle against. The trade service
// never assumes a concrete store; world shards plug in their own.
type Inventory interface {
	// Slot returns the stack at index i, or ok=false when the slot is empty
	// or out of range.
	Slot(i int) (ItemStack, bool)
	Has(item string, count int) bool
	Remove(item string, count int) bool
	Add(item string, count int)
	// CanFit reports whether every incoming stack can be stored once the
	// removing stacks have left. Placement rules are the inventory's own.
	CanFit(incoming, removing []ItemStack) bool
}

// SlotInventory is a fixed-size, slot-indexed in-memory inventory.
type SlotInventory struct {
	slots []ItemStack
}

func NewSlotInventory(size int) *SlotInventory {
	return &SlotInventory{slots: make([]ItemStack, size)}
}

func (v *SlotInventory) Size() int { return len(v.slots) }

func (v *SlotInventory) Slot(i int) (ItemStack, bool) {
	if i < 0 || i >= len(v.slots) {
		return ItemStack{}, false
	}
	st := v.slots[i]
	if st.Item == "" || st.Count <= 0 {
		return ItemStack{}, false
	}
	return st, true
}

// Set places a stack directly into a slot, replacing whatever was there.
func (v *SlotInventory) Set(i int, item string, count int) {
	if i < 0 || i >= len(v.slots) {
		return
	}
	if item == "" || count <= 0 {
		v.slots[i] = ItemStack{}
		return
	}
	v.slots[i] = ItemStack{Item: item, Count: count}
}

func (v *SlotInventory) Has(item string, count int) bool {
	total := 0
	for _, st := range v.slots {
		if st.Item == item {
			total += st.Count
			if total >= count {
				return true
			}
		}
	}
	return false
}

// Remove takes count of item out of the inventory, draining slots in order.
// It mutates nothing and returns false when the inventory holds less than
// count.
func (v *SlotInventory) Remove(item string, count int) bool {
	if !v.Has(item, count) {
		return false
	}
	removeFromSlots(v.slots, item, count)
	return true
}

// Add merges into an existing stack of the same item, else takes the first
// empty slot. Drops when the inventory is full; callers that must not lose
// items check CanFit first (settlement does).
func (v *SlotInventory) Add(item string, count int) {
	if item == "" || count <= 0 {
		return
	}
	addToSlots(v.slots, item, count)
}

// CanFit simulates the exchange on a scratch copy: removals first, then
// placements, so slots freed by outgoing stacks count as capacity.
func (v *SlotInventory) CanFit(incoming, removing []ItemStack) bool {
	scratch := make([]ItemStack, len(v.slots))
	copy(scratch, v.slots)
	for _, st := range removing {
		removeFromSlots(scratch, st.Item, st.Count)
	}
	for _, st := range incoming {
		if st.Item == "" || st.Count <= 0 {
			continue
		}
		if !addToSlots(scratch, st.Item, st.Count) {
			return false
		}
	}
	return true
}

func removeFromSlots(slots []ItemStack, item string, count int) {
	left := count
	for i := range slots {
		if slots[i].Item != item || left == 0 {
			continue
		}
		take := slots[i].Count
		if take > left {
			take = left
		}
		slots[i].Count -= take
		if slots[i].Count == 0 {
			slots[i] = ItemStack{}
		}
		left -= take
	}
}

func addToSlots(slots []ItemStack, item string, count int) bool {
	for i := range slots {
		if slots[i].Item == item {
			slots[i].Count += count
			return true
		}
	}
	for i := range slots {
		if slots[i].Item == "" {
			slots[i] = ItemStack{Item: item, Count: count}
			return true
		}
	}
	return false
}
