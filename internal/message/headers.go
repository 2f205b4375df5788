package message

// Header is a single name/value pair as it appears on the wire.
type Header struct {
	Name  string
	Value string
}

// Headers is an ordered header mapping. Names are case-sensitive and kept as
// received. Setting a name that already exists replaces its value but keeps
// its original position, so iteration order is always first-insertion order.
//
// The zero value is an empty mapping. Headers is never mutated once handed
// out; With returns a modified copy.
type Headers struct {
	entries []Header
	index   map[string]int
}

// NewHeaders builds a mapping from pairs in order. Later duplicates win.
func NewHeaders(pairs ...Header) Headers {
	var h Headers
	for _, p := range pairs {
		h.set(p.Name, p.Value)
	}
	return h
}

// Get returns the value stored under the exact name.
func (h Headers) Get(name string) (string, bool) {
	i, ok := h.index[name]
	if !ok {
		return "", false
	}
	return h.entries[i].Value, true
}

// Len returns the number of distinct header names.
func (h Headers) Len() int {
	return len(h.entries)
}

// Entries returns a copy of the headers in iteration order.
func (h Headers) Entries() []Header {
	out := make([]Header, len(h.entries))
	copy(out, h.entries)
	return out
}

// With returns a copy of h where name is set to value.
func (h Headers) With(name, value string) Headers {
	out := h.clone()
	out.set(name, value)
	return out
}

func (h Headers) clone() Headers {
	out := Headers{
		entries: make([]Header, len(h.entries), len(h.entries)+1),
		index:   make(map[string]int, len(h.entries)+1),
	}
	copy(out.entries, h.entries)
	for k, v := range h.index {
		out.index[k] = v
	}
	return out
}

// set mutates h in place; only used while a mapping is still being built.
func (h *Headers) set(name, value string) {
	if h.index == nil {
		h.index = make(map[string]int)
	}
	if i, ok := h.index[name]; ok {
		h.entries[i].Value = value
		return
	}
	h.index[name] = len(h.entries)
	h.entries = append(h.entries, Header{Name: name, Value: value})
}
