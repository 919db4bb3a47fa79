// Package param implements the Parameter tree data model (spec.md
// section 4.2): a rose tree whose leaves carry Genes sharing one
// Adaptor, and whose interior nodes are ordered sets of children.
//
// Ordering is fixed by tree structure at construction time and never
// changed by gene value, so streamline/assign round-trip deterministically
// and a checkpoint restore reproduces the same trajectory.
package param

import (
	"encoding/gob"
	"fmt"

	"github.com/gemfony/optevo/pkg/adaptor"
	"github.com/gemfony/optevo/pkg/gene"
	"github.com/gemfony/optevo/pkg/rng"
)

func init() {
	// Node is an interface field inside Tree/Individual; both the binary
	// checkpoint format and brokerwire's binary wire encoding round-trip
	// it through encoding/gob, which requires every concrete type used
	// behind an interface to be registered up front.
	gob.Register(&Leaf{})
	gob.Register(&Set{})
}

// Node is a Parameter tree element: either a Leaf (one gene family
// sharing an Adaptor) or a Set (an ordered group of child Nodes).
type Node interface {
	// Streamline appends every Gene of the given kind, in pre-order, to out.
	Streamline(kind gene.Kind, out *[]gene.Gene)
	// Bounds appends per-gene (lo, hi) init-range pairs for kind, in pre-order.
	Bounds(kind gene.Kind, loOut, hiOut *[]float64)
	// Assign consumes values from the front of in (kind-filtered), in
	// pre-order, writing them back into matching genes.
	Assign(kind gene.Kind, in *[]float64)
	// Count returns how many genes of kind this subtree carries.
	Count(kind gene.Kind) int
	// RandomInit samples every gene uniformly from its declared init range.
	RandomInit(r *rng.Stream)
	// AdaptAll recurses into children, invoking each leaf's adaptor.
	AdaptAll(r *rng.Stream)
	// Clone returns a deep, independently-mutable copy of the subtree.
	Clone() Node
}

// Leaf holds one or more Genes of the same kind sharing a single Adaptor,
// plus the declared [initLo, initHi] sampling range used by RandomInit.
type Leaf struct {
	Genes   []gene.Gene
	Adaptor *adaptor.Adaptor
	InitLo  float64
	InitHi  float64
}

// NewLeaf constructs a Leaf over genes sharing ad, with [initLo, initHi]
// as the random-initialization range.
func NewLeaf(genes []gene.Gene, ad *adaptor.Adaptor, initLo, initHi float64) *Leaf {
	return &Leaf{Genes: genes, Adaptor: ad, InitLo: initLo, InitHi: initHi}
}

func (l *Leaf) Streamline(kind gene.Kind, out *[]gene.Gene) {
	for _, g := range l.Genes {
		if g.Kind == kind {
			*out = append(*out, g)
		}
	}
}

func (l *Leaf) Bounds(kind gene.Kind, loOut, hiOut *[]float64) {
	for _, g := range l.Genes {
		if g.Kind == kind {
			*loOut = append(*loOut, l.InitLo)
			*hiOut = append(*hiOut, l.InitHi)
		}
	}
}

func (l *Leaf) Assign(kind gene.Kind, in *[]float64) {
	for i := range l.Genes {
		if l.Genes[i].Kind != kind {
			continue
		}

		if len(*in) == 0 {
			return
		}

		v := (*in)[0]
		*in = (*in)[1:]

		switch kind {
		case gene.Bool:
			l.Genes[i].BoolVal = v != 0
		case gene.Int32:
			l.Genes[i].Int32Val = int32(v)
		case gene.Float64:
			l.Genes[i].Float64Val = v
		case gene.ConstrainedFloat64:
			l.Genes[i].SetInternal(v)
		}
	}
}

func (l *Leaf) Count(kind gene.Kind) int {
	n := 0

	for _, g := range l.Genes {
		if g.Kind == kind {
			n++
		}
	}

	return n
}

func (l *Leaf) RandomInit(r *rng.Stream) {
	for i := range l.Genes {
		v := l.InitLo + r.Float64()*(l.InitHi-l.InitLo)

		switch l.Genes[i].Kind {
		case gene.Bool:
			l.Genes[i].BoolVal = r.Float64() < 0.5
		case gene.Int32:
			l.Genes[i].Int32Val = int32(v)
		case gene.Float64:
			l.Genes[i].Float64Val = v
		case gene.ConstrainedFloat64:
			l.Genes[i].SetInternal(v)
		}
	}
}

func (l *Leaf) AdaptAll(r *rng.Stream) {
	if l.Adaptor == nil || len(l.Genes) == 0 {
		return
	}

	if len(l.Genes) == 1 {
		l.Adaptor.Adapt(r, &l.Genes[0])
		return
	}

	l.Adaptor.AdaptVector(r, l.Genes)
}

func (l *Leaf) Clone() Node {
	genes := make([]gene.Gene, len(l.Genes))
	copy(genes, l.Genes)

	adCopy := *l.Adaptor

	return &Leaf{Genes: genes, Adaptor: &adCopy, InitLo: l.InitLo, InitHi: l.InitHi}
}

// Set is an interior Parameter-tree node: an ordered sequence of child
// Nodes. Semantically unordered (children are conceptually a set), but
// stored and iterated in a fixed order for reproducibility.
type Set struct {
	Children []Node
}

// NewSet constructs a Set over the given children, in the given order.
func NewSet(children ...Node) *Set { return &Set{Children: children} }

func (s *Set) Streamline(kind gene.Kind, out *[]gene.Gene) {
	for _, c := range s.Children {
		c.Streamline(kind, out)
	}
}

func (s *Set) Bounds(kind gene.Kind, loOut, hiOut *[]float64) {
	for _, c := range s.Children {
		c.Bounds(kind, loOut, hiOut)
	}
}

func (s *Set) Assign(kind gene.Kind, in *[]float64) {
	for _, c := range s.Children {
		c.Assign(kind, in)
	}
}

func (s *Set) Count(kind gene.Kind) int {
	n := 0
	for _, c := range s.Children {
		n += c.Count(kind)
	}

	return n
}

func (s *Set) RandomInit(r *rng.Stream) {
	for _, c := range s.Children {
		c.RandomInit(r)
	}
}

func (s *Set) AdaptAll(r *rng.Stream) {
	for _, c := range s.Children {
		c.AdaptAll(r)
	}
}

func (s *Set) Clone() Node {
	children := make([]Node, len(s.Children))
	for i, c := range s.Children {
		children[i] = c.Clone()
	}

	return &Set{Children: children}
}

// Tree wraps a root Node with the typed, public operations of spec.md
// section 4.2.
type Tree struct {
	Root Node
}

// StreamlineFlat deterministically flattens every gene of kind from the
// tree, in pre-order, as a vector of their external float64 values.
func StreamlineFlat(t *Tree, kind gene.Kind) []float64 {
	var genes []gene.Gene

	t.Root.Streamline(kind, &genes)

	out := make([]float64, len(genes))
	for i, g := range genes {
		out[i] = g.Value()
	}

	return out
}

// Bounds returns parallel lower/upper init-range vectors for every gene
// of kind, in the same pre-order as StreamlineFlat.
func Bounds(t *Tree, kind gene.Kind) (lo, hi []float64) {
	t.Root.Bounds(kind, &lo, &hi)
	return lo, hi
}

// AssignFlat is the inverse of StreamlineFlat: values must have exactly
// Count(kind) entries; for constrained kinds, each value passes through
// the transfer function before storage.
func AssignFlat(t *Tree, kind gene.Kind, values []float64) error {
	if got, want := len(values), t.Root.Count(kind); got != want {
		return fmt.Errorf("assign_flat: length mismatch for kind %s: got %d, want %d", kind, got, want)
	}

	rest := append([]float64(nil), values...)
	t.Root.Assign(kind, &rest)

	return nil
}

// Count returns the number of genes of kind in the tree.
func Count(t *Tree, kind gene.Kind) int { return t.Root.Count(kind) }

// RandomInit samples every gene in the tree uniformly from its declared
// init range.
func RandomInit(t *Tree, r *rng.Stream) { t.Root.RandomInit(r) }

// AdaptAll recurses into every leaf, invoking its adaptor.
func AdaptAll(t *Tree, r *rng.Stream) { t.Root.AdaptAll(r) }

// Clone returns a deep, independently-mutable copy of the tree.
func (t *Tree) Clone() *Tree { return &Tree{Root: t.Root.Clone()} }
