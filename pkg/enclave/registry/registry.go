package registry

import "sort"

// Registry is the set of loaded enclaves, keyed by base address.
// It is not safe for concurrent use.
type Registry struct {
	enclaves map[uint64]*Enclave
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{enclaves: make(map[uint64]*Enclave)}
}

// Insert adds e, replacing any enclave with the same base address.
func (r *Registry) Insert(e *Enclave) {
	r.enclaves[e.BaseAddr] = e
}

// Remove deletes the enclave loaded at base. Removing an unknown enclave
// does nothing.
func (r *Registry) Remove(base uint64) {
	delete(r.enclaves, base)
}

// Find returns the enclave loaded at base.
func (r *Registry) Find(base uint64) (*Enclave, bool) {
	e, ok := r.enclaves[base]
	return e, ok
}

// Len returns the number of enclaves.
func (r *Registry) Len() int {
	return len(r.enclaves)
}

// All returns every enclave sorted by base address.
func (r *Registry) All() []*Enclave {
	es := make([]*Enclave, 0, len(r.enclaves))
	for _, e := range r.enclaves {
		es = append(es, e)
	}
	sort.Slice(es, func(i, j int) bool { return es[i].BaseAddr < es[j].BaseAddr })
	return es
}

// Clear removes every enclave.
func (r *Registry) Clear() {
	r.enclaves = make(map[uint64]*Enclave)
}

// AppendThreadIfAbsent adds a thread with the given TCS address to e
// unless e already has one. It returns the thread and whether it was
// added.
func (r *Registry) AppendThreadIfAbsent(e *Enclave, tcs uint64) (*Thread, bool) {
	if th := e.Thread(tcs); th != nil {
		return th, false
	}
	th := &Thread{TCS: tcs}
	e.Threads = append(e.Threads, th)
	return th, true
}

// Rebuild replaces the contents of the registry with the enclaves in the
// runtime's list starting at head. Enclaves read before a failure are
// kept.
func (r *Registry) Rebuild(rd *Reader, head uint64) error {
	es, err := rd.Walk(head)
	r.Clear()
	for _, e := range es {
		r.Insert(e)
	}
	return err
}
