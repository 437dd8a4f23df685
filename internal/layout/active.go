package layout

import (
	"sync"
	"sync/atomic"

	"github.com/coreman2200/ledwall/internal/topology"
)

// Generation is one consistent topology/table pair.
type Generation struct {
	ID       uint64
	Topology *topology.Topology
	Table    *Table
}

func (g *Generation) CanvasSize() (w, h int) { return g.Table.Width(), g.Table.Height() }

// Active holds the published generation. Readers never block; Publish calls
// are serialised so IDs stay monotonic.
type Active struct {
	mu   sync.Mutex
	cur  atomic.Pointer[Generation]
	next uint64
}

// Load returns the current generation, or nil before the first Publish.
func (a *Active) Load() *Generation { return a.cur.Load() }

// Publish builds a table for top and swaps it in. On error the previous
// generation stays active.
func (a *Active) Publish(top *topology.Topology) (*Generation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	tbl, err := Build(top)
	if err != nil {
		return nil, err
	}
	a.next++
	g := &Generation{ID: a.next, Topology: top, Table: tbl}
	a.cur.Store(g)
	return g, nil
}
