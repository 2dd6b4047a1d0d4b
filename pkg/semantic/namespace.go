package semantic

// ColumnRef is one entry in a plan's merged namespace: a column owned by a
// specific relation alias.
type ColumnRef struct {
	Alias    string
	Name     string
	DataType string
	Nullable bool
}

// Namespace is the merged column namespace of a resolved join plan. Entries
// are ordered base relation first, then each join's columns in plan order,
// preserving catalog column order within a relation. Bare column names resolve
// to the first owning alias in that order.
type Namespace struct {
	refs   []ColumnRef
	byName map[string][]int
}

func newNamespace() *Namespace {
	return &Namespace{byName: make(map[string][]int)}
}

func (n *Namespace) add(alias string, cols []Column) {
	for _, c := range cols {
		n.byName[c.Name] = append(n.byName[c.Name], len(n.refs))
		n.refs = append(n.refs, ColumnRef{
			Alias:    alias,
			Name:     c.Name,
			DataType: c.DataType,
			Nullable: c.Nullable,
		})
	}
}

// Resolve finds the owning alias for a bare column name. It returns the first
// match in namespace order together with the total number of candidates, so
// callers can report ambiguity without failing.
func (n *Namespace) Resolve(name string) (ColumnRef, int, bool) {
	positions := n.byName[name]
	if len(positions) == 0 {
		return ColumnRef{}, 0, false
	}
	return n.refs[positions[0]], len(positions), true
}

// Lookup finds a column under a specific alias.
func (n *Namespace) Lookup(alias, name string) (ColumnRef, bool) {
	for _, pos := range n.byName[name] {
		if n.refs[pos].Alias == alias {
			return n.refs[pos], true
		}
	}
	return ColumnRef{}, false
}

// Columns returns a copy of every entry in namespace order.
func (n *Namespace) Columns() []ColumnRef {
	out := make([]ColumnRef, len(n.refs))
	copy(out, n.refs)
	return out
}

// Len reports the number of entries.
func (n *Namespace) Len() int {
	return len(n.refs)
}
