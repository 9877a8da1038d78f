// SPDX-License-Identifier: MIT
// Package grid — Network Topology Builder.
//
// BuildTopology turns the declared nodes and branches into:
//   - the signed incidence A (nodes × branches; −1 at From, +1 at To),
//   - a spanning forest over AC branches chosen by Kruskal with union-find,
//     preferring low reactance and then high voltage,
//   - BFS parent/depth arrays rooted at one slack node per AC component,
//   - one fundamental cycle per AC non-tree branch (the initial cycle basis).
//
// HVDC branches take part in node balance and in interconnection counting but
// not in Kirchhoff's voltage law, so they are never tree or cycle members.
//
// Complexity:
//
//   - Time:   O(B log B + N + Σ|cycle|)
//   - Memory: O(N·B) when the dense incidence is materialised, O(N + B) otherwise.
package grid

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Options configures BuildTopology.
type Options struct {
	// Slack lists preferred reference nodes; the first one falling into an
	// AC component becomes its root. Components without one use their
	// lowest-index node.
	Slack []string

	// PreferHighVoltage breaks reactance ties in favour of higher VoltageKV.
	PreferHighVoltage bool
}

// Option configures Options.
type Option func(*Options)

// WithSlack sets preferred slack (tree root) nodes.
func WithSlack(ids ...string) Option {
	return func(o *Options) { o.Slack = append([]string(nil), ids...) }
}

// WithVoltagePreference toggles the high-voltage tie-break.
func WithVoltagePreference(on bool) Option {
	return func(o *Options) { o.PreferHighVoltage = on }
}

// DefaultOptions returns lowest-index slack selection with the voltage tie-break on.
func DefaultOptions() Options {
	return Options{PreferHighVoltage: true}
}

// Arc is one branch traversal inside a cycle: Sign is +1 when the cycle
// walks the branch From→To and −1 otherwise.
type Arc struct {
	Branch int
	Sign   float64
}

// Cycle is a closed walk given as its arcs in traversal order.
type Cycle []Arc

// Len returns the number of branches in the cycle.
func (c Cycle) Len() int { return len(c) }

// Topology is the immutable result of BuildTopology. All index slices are
// positional (node i is NodeIDs[i], branch b is BranchIDs[b]).
type Topology struct {
	NodeIDs   []string
	BranchIDs []string
	From, To  []int
	Reactance []float64
	Limit     []float64
	HVDC      []bool

	AC      []int  // AC branch indices, ascending
	InTree  []bool // per branch
	NonTree []int  // AC branches closing a fundamental cycle, ascending

	Parent       []int // parent node in the forest, −1 for roots
	ParentBranch []int // branch to parent, −1 for roots
	Depth        []int
	Component    []int // AC component of each node
	Roots        []int // slack node of each AC component

	Interconnections int // components when HVDC links count as connections

	nodeIdx   map[string]int
	branchIdx map[string]int
}

// NumNodes returns N.
func (t *Topology) NumNodes() int { return len(t.NodeIDs) }

// NumBranches returns B (AC and HVDC).
func (t *Topology) NumBranches() int { return len(t.BranchIDs) }

// NumComponents returns the number of AC components (islands for KVL).
func (t *Topology) NumComponents() int { return len(t.Roots) }

// CycleRank returns |AC branches| − N + components, the dimension of the cycle space.
func (t *Topology) CycleRank() int { return len(t.AC) - len(t.NodeIDs) + len(t.Roots) }

// NodeIndex resolves a node id.
func (t *Topology) NodeIndex(id string) (int, bool) {
	i, ok := t.nodeIdx[id]
	return i, ok
}

// BranchIndex resolves a branch id.
func (t *Topology) BranchIndex(id string) (int, bool) {
	i, ok := t.branchIdx[id]
	return i, ok
}

// BuildTopology validates net and derives its incidence, spanning forest,
// and fundamental cycle basis.
//
// Steps:
//  1. Index nodes and branches; reject empty networks, duplicate ids,
//     unknown endpoints, self-loops, and non-positive reactance or limit.
//  2. Kruskal over AC branches (sorted by reactance, voltage, index).
//  3. Count interconnections over all branches and compare to the declared value.
//  4. Pick one root per AC component and BFS the forest for parent/depth.
//
// Errors: *TopologyError (matches ErrInvalidTopology).
func BuildTopology(net *Network, opts ...Option) (*Topology, error) {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if net == nil || len(net.Nodes) == 0 {
		return nil, &TopologyError{Reason: "network has no nodes"}
	}

	// 1. Index nodes and branches.
	t := &Topology{
		NodeIDs:   make([]string, len(net.Nodes)),
		nodeIdx:   make(map[string]int, len(net.Nodes)),
		branchIdx: make(map[string]int, len(net.Branches)),
	}
	for i, n := range net.Nodes {
		if n.ID == "" {
			return nil, &TopologyError{Reason: fmt.Sprintf("node %d has an empty id", i)}
		}
		if _, dup := t.nodeIdx[n.ID]; dup {
			return nil, &TopologyError{Reason: "duplicate node id", Node: n.ID}
		}
		t.nodeIdx[n.ID] = i
		t.NodeIDs[i] = n.ID
	}
	nb := len(net.Branches)
	t.BranchIDs = make([]string, nb)
	t.From, t.To = make([]int, nb), make([]int, nb)
	t.Reactance, t.Limit = make([]float64, nb), make([]float64, nb)
	t.HVDC, t.InTree = make([]bool, nb), make([]bool, nb)
	for b, br := range net.Branches {
		if br.ID == "" {
			return nil, &TopologyError{Reason: fmt.Sprintf("branch %d has an empty id", b)}
		}
		if _, dup := t.branchIdx[br.ID]; dup {
			return nil, &TopologyError{Reason: "duplicate branch id", Branch: br.ID}
		}
		u, okU := t.nodeIdx[br.From]
		v, okV := t.nodeIdx[br.To]
		switch {
		case !okU:
			return nil, &TopologyError{Reason: "unknown endpoint", Branch: br.ID, Node: br.From}
		case !okV:
			return nil, &TopologyError{Reason: "unknown endpoint", Branch: br.ID, Node: br.To}
		case u == v:
			return nil, &TopologyError{Reason: "self-loop", Branch: br.ID, Node: br.From}
		case !br.HVDC && br.Reactance <= 0:
			return nil, &TopologyError{Reason: fmt.Sprintf("reactance %g must be positive", br.Reactance), Branch: br.ID}
		case br.Limit <= 0:
			return nil, &TopologyError{Reason: fmt.Sprintf("thermal limit %g must be positive", br.Limit), Branch: br.ID}
		}
		t.branchIdx[br.ID] = b
		t.BranchIDs[b] = br.ID
		t.From[b], t.To[b] = u, v
		t.Reactance[b], t.Limit[b], t.HVDC[b] = br.Reactance, br.Limit, br.HVDC
		if !br.HVDC {
			t.AC = append(t.AC, b)
		}
	}

	// 2. Kruskal over AC branches.
	order := append([]int(nil), t.AC...)
	sort.SliceStable(order, func(i, j int) bool {
		bi, bj := net.Branches[order[i]], net.Branches[order[j]]
		if bi.Reactance != bj.Reactance {
			return bi.Reactance < bj.Reactance
		}
		if o.PreferHighVoltage && bi.VoltageKV != bj.VoltageKV {
			return bi.VoltageKV > bj.VoltageKV
		}
		return order[i] < order[j]
	})
	acSets := newDisjointSet(len(t.NodeIDs))
	for _, b := range order {
		if acSets.union(t.From[b], t.To[b]) {
			t.InTree[b] = true
		}
	}
	for _, b := range t.AC {
		if !t.InTree[b] {
			t.NonTree = append(t.NonTree, b)
		}
	}

	// 3. Interconnections: AC forest plus HVDC links.
	allSets := newDisjointSet(len(t.NodeIDs))
	for b := range t.BranchIDs {
		allSets.union(t.From[b], t.To[b])
	}
	t.Interconnections = allSets.count()
	declared := net.Interconnections
	if declared == 0 {
		declared = 1
	}
	if t.Interconnections != declared {
		return nil, &TopologyError{Reason: fmt.Sprintf("network forms %d interconnections, declared %d", t.Interconnections, declared)}
	}

	// 4. Roots and BFS over the forest.
	t.buildForest(acSets, o.Slack)

	return t, nil
}

// buildForest assigns one root per AC component and fills Parent,
// ParentBranch, Depth, and Component by BFS over tree branches.
func (t *Topology) buildForest(sets *disjointSet, slack []string) {
	n := len(t.NodeIDs)
	rootOf := make(map[int]int) // set representative → chosen root
	for _, id := range slack {
		if v, ok := t.nodeIdx[id]; ok {
			if _, taken := rootOf[sets.find(v)]; !taken {
				rootOf[sets.find(v)] = v
			}
		}
	}
	for v := 0; v < n; v++ {
		if _, taken := rootOf[sets.find(v)]; !taken {
			rootOf[sets.find(v)] = v
		}
	}

	adj := make([][]int, n) // tree branches per node
	for _, b := range t.AC {
		if t.InTree[b] {
			adj[t.From[b]] = append(adj[t.From[b]], b)
			adj[t.To[b]] = append(adj[t.To[b]], b)
		}
	}

	t.Parent = make([]int, n)
	t.ParentBranch = make([]int, n)
	t.Depth = make([]int, n)
	t.Component = make([]int, n)
	for v := range t.Parent {
		t.Parent[v], t.ParentBranch[v], t.Component[v] = -1, -1, -1
	}

	for v := 0; v < n; v++ {
		root := rootOf[sets.find(v)]
		if t.Component[root] >= 0 {
			continue
		}
		comp := len(t.Roots)
		t.Roots = append(t.Roots, root)
		t.Component[root] = comp
		queue := []int{root}
		for len(queue) > 0 {
			u := queue[0]
			queue = queue[1:]
			for _, b := range adj[u] {
				w := t.From[b]
				if w == u {
					w = t.To[b]
				}
				if t.Component[w] >= 0 {
					continue
				}
				t.Component[w] = comp
				t.Parent[w], t.ParentBranch[w] = u, b
				t.Depth[w] = t.Depth[u] + 1
				queue = append(queue, w)
			}
		}
	}
}

// step returns the arc for moving from node u across branch b.
func (t *Topology) step(u, b int) Arc {
	if t.From[b] == u {
		return Arc{Branch: b, Sign: 1}
	}
	return Arc{Branch: b, Sign: -1}
}

// TreePath returns the arcs of the forest path walking from u to v, or nil
// when u == v or the nodes lie in different AC components.
func (t *Topology) TreePath(u, v int) []Arc {
	if u == v || t.Component[u] != t.Component[v] {
		return nil
	}
	var up, down []Arc // up: u → lca, down: v → lca (reversed later)
	for t.Depth[u] > t.Depth[v] {
		up = append(up, t.step(u, t.ParentBranch[u]))
		u = t.Parent[u]
	}
	for t.Depth[v] > t.Depth[u] {
		down = append(down, t.step(v, t.ParentBranch[v]))
		v = t.Parent[v]
	}
	for u != v {
		up = append(up, t.step(u, t.ParentBranch[u]))
		u = t.Parent[u]
		down = append(down, t.step(v, t.ParentBranch[v]))
		v = t.Parent[v]
	}
	path := up
	for i := len(down) - 1; i >= 0; i-- {
		path = append(path, Arc{Branch: down[i].Branch, Sign: -down[i].Sign})
	}
	return path
}

// FundamentalCycle returns the cycle closed by AC non-tree branch b: b is
// walked From→To (+1), then the tree path back from To to From.
func (t *Topology) FundamentalCycle(b int) Cycle {
	cyc := Cycle{{Branch: b, Sign: 1}}
	return append(cyc, t.TreePath(t.To[b], t.From[b])...)
}

// FundamentalCycles returns one cycle per NonTree branch, in NonTree order.
func (t *Topology) FundamentalCycles() []Cycle {
	out := make([]Cycle, len(t.NonTree))
	for i, b := range t.NonTree {
		out[i] = t.FundamentalCycle(b)
	}
	return out
}

// Incidence materialises A as a dense N×B matrix.
func (t *Topology) Incidence() *mat.Dense {
	A := mat.NewDense(len(t.NodeIDs), len(t.BranchIDs), nil)
	for b := range t.BranchIDs {
		A.Set(t.From[b], b, -1)
		A.Set(t.To[b], b, 1)
	}
	return A
}

// CycleMatrix materialises D (one row per cycle, B columns).
func (t *Topology) CycleMatrix(cycles []Cycle) *mat.Dense {
	if len(cycles) == 0 {
		return nil
	}
	D := mat.NewDense(len(cycles), len(t.BranchIDs), nil)
	for r, c := range cycles {
		for _, a := range c {
			D.Set(r, a.Branch, D.At(r, a.Branch)+a.Sign)
		}
	}
	return D
}

// TreeSolution returns T (B×N): T·p is the flow that carries net injections p
// (generation minus load, balanced per AC component) to the component roots
// along the spanning forest. Root columns, HVDC rows, and non-tree rows are zero.
func (t *Topology) TreeSolution() *mat.Dense {
	T := mat.NewDense(len(t.BranchIDs), len(t.NodeIDs), nil)
	for w := range t.NodeIDs {
		// walk w's injection up to its root
		for u := w; t.Parent[u] >= 0; u = t.Parent[u] {
			b := t.ParentBranch[u]
			T.Set(b, w, t.step(u, b).Sign)
		}
	}
	return T
}

// disjointSet is union-find with path halving and union by rank.
type disjointSet struct {
	parent []int
	rank   []int
}

func newDisjointSet(n int) *disjointSet {
	d := &disjointSet{parent: make([]int, n), rank: make([]int, n)}
	for i := range d.parent {
		d.parent[i] = i
	}
	return d
}

func (d *disjointSet) find(u int) int {
	for d.parent[u] != u {
		d.parent[u] = d.parent[d.parent[u]]
		u = d.parent[u]
	}
	return u
}

// union merges the sets of u and v and reports whether they were disjoint.
func (d *disjointSet) union(u, v int) bool {
	ru, rv := d.find(u), d.find(v)
	if ru == rv {
		return false
	}
	switch {
	case d.rank[ru] < d.rank[rv]:
		d.parent[ru] = rv
	case d.rank[ru] > d.rank[rv]:
		d.parent[rv] = ru
	default:
		d.parent[rv] = ru
		d.rank[ru]++
	}
	return true
}

func (d *disjointSet) count() int {
	n := 0
	for i := range d.parent {
		if d.find(i) == i {
			n++
		}
	}
	return n
}
