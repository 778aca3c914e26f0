// Package rid generates the surrogate keys of doc-part rows.
//
// A [Generator] belongs to one write transaction. Row ids are unique per
// doc-part table; document ids are unique per collection. Generators are
// seeded from the largest values already stored, so ids keep increasing
// across transactions of the same process.
package rid

// Generator allocates rid and did values. It must not be used concurrently.
type Generator struct {
	did  int64
	rids map[string]int64
}

// New returns a Generator starting at 1 for every table.
func New() *Generator {
	return &Generator{rids: map[string]int64{}}
}

// SeedDid makes the next document id larger than last.
func (g *Generator) SeedDid(last int64) {
	if last > g.did {
		g.did = last
	}
}

// SeedRid makes the next row id of table larger than last.
func (g *Generator) SeedRid(table string, last int64) {
	if last > g.rids[table] {
		g.rids[table] = last
	}
}

// NextDid returns a new document id.
func (g *Generator) NextDid() int64 {
	g.did++
	return g.did
}

// NextRid returns a new row id for table.
func (g *Generator) NextRid(table string) int64 {
	g.rids[table]++
	return g.rids[table]
}

// Mark captures the state of the generator so it can be restored with Reset.
type Mark struct {
	did  int64
	rids map[string]int64
}

// Mark returns the current state.
func (g *Generator) Mark() Mark {
	m := Mark{did: g.did, rids: make(map[string]int64, len(g.rids))}
	for k, v := range g.rids {
		m.rids[k] = v
	}
	return m
}

// Reset restores a state returned by Mark.
func (g *Generator) Reset(m Mark) {
	g.did = m.did
	g.rids = make(map[string]int64, len(m.rids))
	for k, v := range m.rids {
		g.rids[k] = v
	}
}
