package disruption

// KnownState maps identity to the last observed notice and remembers the
// order in which identities were first seen.
//
// KnownState is not safe for concurrent use; the pass runner owns it.
type KnownState struct {
	order []string
	byID  map[string]Notice
}

func NewKnownState() *KnownState {
	return &KnownState{byID: map[string]Notice{}}
}

// KnownStateOf builds a state from notices in order. Notices without an ID get
// their content identity; later duplicates replace earlier ones in place.
func KnownStateOf(notices ...Notice) *KnownState {
	k := NewKnownState()
	for _, n := range notices {
		k.Put(n)
	}
	return k
}

func (k *KnownState) Len() int {
	if k == nil {
		return 0
	}
	return len(k.order)
}

func (k *KnownState) Has(id string) bool {
	if k == nil {
		return false
	}
	_, ok := k.byID[id]
	return ok
}

func (k *KnownState) Get(id string) (Notice, bool) {
	if k == nil {
		return Notice{}, false
	}
	n, ok := k.byID[id]
	return n, ok
}

// Put inserts n at the end, or replaces the stored notice keeping its position.
func (k *KnownState) Put(n Notice) {
	id := n.EnsureID()
	if k.byID == nil {
		k.byID = map[string]Notice{}
	}
	if _, ok := k.byID[id]; !ok {
		k.order = append(k.order, id)
	}
	k.byID[id] = n
}

// Remove drops id and reports whether it was stored.
func (k *KnownState) Remove(id string) bool {
	if k == nil {
		return false
	}
	if _, ok := k.byID[id]; !ok {
		return false
	}
	delete(k.byID, id)
	for i, v := range k.order {
		if v == id {
			k.order = append(k.order[:i:i], k.order[i+1:]...)
			break
		}
	}
	return true
}

// IDs returns identities in insertion order.
func (k *KnownState) IDs() []string {
	if k == nil {
		return nil
	}
	return append([]string(nil), k.order...)
}

// Notices returns stored notices in insertion order.
func (k *KnownState) Notices() []Notice {
	if k == nil {
		return nil
	}
	out := make([]Notice, 0, len(k.order))
	for _, id := range k.order {
		out = append(out, k.byID[id])
	}
	return out
}

// BySource returns the stored notices of one source in insertion order.
func (k *KnownState) BySource(src Source) []Notice {
	var out []Notice
	for _, n := range k.Notices() {
		if n.Source == src {
			out = append(out, n)
		}
	}
	return out
}

func (k *KnownState) Clone() *KnownState {
	return KnownStateOf(k.Notices()...)
}
