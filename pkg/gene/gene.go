// Package gene defines the primitive parameter kinds a Parameter tree is
// built from: Bool, Int32, Float64, and ConstrainedFloat64.
package gene

import "math"

// Kind tags which payload of a Gene is live.
type Kind int

const (
	Bool Kind = iota
	Int32
	Float64
	ConstrainedFloat64
)

func (k Kind) String() string {
	switch k {
	case Bool:
		return "bool"
	case Int32:
		return "int32"
	case Float64:
		return "float64"
	case ConstrainedFloat64:
		return "constrained_float64"
	default:
		return "unknown"
	}
}

// Gene is a tagged variant over the primitive parameter kinds. Only the
// field matching Kind is meaningful.
//
// A ConstrainedFloat64 gene carries both the unconstrained Internal value
// that mutation actually perturbs and the External value obtained by
// folding Internal through Transfer; Invariant: after any mutation,
// Lo <= External <= Hi.
type Gene struct {
	Kind Kind

	BoolVal  bool
	Int32Val int32

	// Float64Val holds the value for the unconstrained Float64 kind.
	Float64Val float64

	// ConstrainedFloat64 payload.
	Internal float64
	External float64
	Lo       float64
	Hi       float64
}

// NewBool constructs a Bool gene.
func NewBool(v bool) Gene { return Gene{Kind: Bool, BoolVal: v} }

// NewInt32 constructs an Int32 gene.
func NewInt32(v int32) Gene { return Gene{Kind: Int32, Int32Val: v} }

// NewFloat64 constructs an unconstrained Float64 gene.
func NewFloat64(v float64) Gene { return Gene{Kind: Float64, Float64Val: v} }

// NewConstrainedFloat64 constructs a ConstrainedFloat64 gene with internal
// value v, folding it into range [lo, hi] immediately.
func NewConstrainedFloat64(v, lo, hi float64) Gene {
	g := Gene{Kind: ConstrainedFloat64, Internal: v, Lo: lo, Hi: hi}
	g.External = Transfer(v, lo, hi)

	return g
}

// Transfer is the reflective (triangle-wave) folding map t: R -> [lo, hi].
// It is continuous, bijective on each period, and maps [lo, hi] onto
// itself, which is what lets a Gaussian adaptor perturb Internal smoothly
// without ever range-checking or clamping External.
//
// Construction: let w = hi - lo and P = 2w. Reduce x - lo modulo P into
// [0, P). The first half of the period maps straight through; the second
// half mirrors back, producing a triangle wave with period P and peaks at
// lo and hi.
func Transfer(x, lo, hi float64) float64 {
	if lo == hi {
		return lo
	}

	w := hi - lo
	p := 2 * w

	r := math.Mod(x-lo, p)
	if r < 0 {
		r += p
	}

	if r <= w {
		return lo + r
	}

	return hi - (r - w)
}

// SetInternal updates a ConstrainedFloat64 gene's internal value and
// recomputes External via Transfer. No-op on other kinds.
func (g *Gene) SetInternal(v float64) {
	if g.Kind != ConstrainedFloat64 {
		return
	}

	g.Internal = v
	g.External = Transfer(v, g.Lo, g.Hi)
}

// Value returns the externally visible value of the gene as a float64,
// regardless of kind, for code that treats genes uniformly (e.g. PSO
// vector arithmetic).
func (g Gene) Value() float64 {
	switch g.Kind {
	case Bool:
		if g.BoolVal {
			return 1
		}

		return 0
	case Int32:
		return float64(g.Int32Val)
	case Float64:
		return g.Float64Val
	case ConstrainedFloat64:
		return g.External
	default:
		return 0
	}
}

// Clone returns a deep copy; Gene has no pointer fields so this is a
// plain value copy, but the method exists so callers never need to
// reason about which kind is safe to copy by assignment.
func (g Gene) Clone() Gene { return g }
