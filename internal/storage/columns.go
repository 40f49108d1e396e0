package storage

// ColumnSet tracks which columns the destination already carries, in a
// stable order. Schema evolution is strictly additive: columns are only
// ever appended, never removed or retyped.
type ColumnSet struct {
	names []string
	set   map[string]bool
}

func NewColumnSet(names ...string) *ColumnSet {
	cs := &ColumnSet{set: make(map[string]bool, len(names))}
	for _, n := range names {
		cs.Add(n)
	}
	return cs
}

// Add appends a column if it is not present yet and reports whether it was
// newly added.
func (c *ColumnSet) Add(name string) bool {
	if c.set[name] {
		return false
	}
	c.set[name] = true
	c.names = append(c.names, name)
	return true
}

func (c *ColumnSet) Has(name string) bool { return c.set[name] }

func (c *ColumnSet) Len() int { return len(c.names) }

// Names returns the columns in their stable order.
func (c *ColumnSet) Names() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// Missing returns the members of fields not yet in the set, keeping their
// order.
func (c *ColumnSet) Missing(fields []string) []string {
	var out []string
	for _, f := range fields {
		if !c.set[f] {
			out = append(out, f)
		}
	}
	return out
}
