package crdt

import "github.com/brunokim/mdcrdt/id"

// tombstone is the sentinel value stored by Map.Delete, distinguishing "key
// was explicitly removed" from "key was never set" (spec.md §3: "removal
// is an LWW write of the tombstone sentinel").
type tombstone struct{}

// Register is a last-writer-wins cell: the value tagged with the greatest
// OpId wins, ties broken by OpId's own lexicographic order (spec.md §4.3).
type Register struct {
	id    id.OpId
	value interface{}
	set   bool
}

// Set writes value with opID, replacing the current contents iff opID is
// greater than or equal to the stored OpId. Returns whether the write took
// effect.
func (r *Register) Set(opID id.OpId, value interface{}) bool {
	if r.set && opID.Compare(r.id) < 0 {
		return false
	}
	r.id = opID
	r.value = value
	r.set = true
	return true
}

// Get returns the current value and whether the register holds a
// non-tombstoned value.
func (r *Register) Get() (interface{}, bool) {
	if !r.set {
		return nil, false
	}
	if _, isTombstone := r.value.(tombstone); isTombstone {
		return nil, false
	}
	return r.value, true
}

// OpId returns the OpId of the write currently winning, and whether the
// register has ever been written.
func (r *Register) OpId() (id.OpId, bool) {
	return r.id, r.set
}

// Map is a mapping from string keys to LWW registers (spec.md §3).
// Unknown keys are absent; Delete writes the tombstone sentinel rather
// than removing the key's causal history.
type Map struct {
	registers map[string]*Register
}

// NewMap returns an empty map.
func NewMap() *Map {
	return &Map{registers: make(map[string]*Register)}
}

func (m *Map) register(key string) *Register {
	if m.registers == nil {
		m.registers = make(map[string]*Register)
	}
	r, ok := m.registers[key]
	if !ok {
		r = &Register{}
		m.registers[key] = r
	}
	return r
}

// Set writes value at key with opID, delegating to the key's register.
// Returns whether the write took effect (LWW).
func (m *Map) Set(key string, opID id.OpId, value interface{}) bool {
	return m.register(key).Set(opID, value)
}

// Delete writes the tombstone sentinel at key with opID.
func (m *Map) Delete(key string, opID id.OpId) bool {
	return m.register(key).Set(opID, tombstone{})
}

// Get returns the value at key and whether it is present (not absent, not
// tombstoned).
func (m *Map) Get(key string) (interface{}, bool) {
	r, ok := m.registers[key]
	if !ok {
		return nil, false
	}
	return r.Get()
}

// Keys returns the set of keys with a present (non-tombstoned) value, in
// no particular order.
func (m *Map) Keys() []string {
	var out []string
	for k, r := range m.registers {
		if _, ok := r.Get(); ok {
			out = append(out, k)
		}
	}
	return out
}

// Snapshot returns the present key/value pairs as a plain map, useful for
// serialization.
func (m *Map) Snapshot() map[string]interface{} {
	out := make(map[string]interface{})
	for k, r := range m.registers {
		if v, ok := r.Get(); ok {
			out[k] = v
		}
	}
	return out
}

// Clone returns a deep copy of the map.
func (m *Map) Clone() *Map {
	out := NewMap()
	for k, r := range m.registers {
		cp := *r
		out.registers[k] = &cp
	}
	return out
}
