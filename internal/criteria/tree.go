// Package criteria defines the boolean search criteria model: the
// Must/Should/MustNot clause tree, the search configuration value object,
// and the semantic fingerprint used to detect meaning-changing edits.
package criteria

import "time"

// OperatorKind selects the boolean combination mode of an operator clause.
type OperatorKind string

// Operator kinds.
const (
	OpAnd OperatorKind = "AND"
	OpOr  OperatorKind = "OR"
)

// Clause is a node in the criteria tree: either a [Leaf] item clause or an
// [Operator] over child clauses.
type Clause interface {
	clause()
}

// Leaf describes a single item that must, should, or must not appear in a
// matching seed.
type Leaf struct {
	// ItemType is the item category (e.g. "joker", "voucher", "tag").
	ItemType string

	// Name is the item name. Values lists alternatives when the clause
	// accepts more than one item; Name is then the display choice.
	Name   string
	Values []string

	// Antes is the subset of antes in which the item must appear.
	// Empty means any ante.
	Antes []int

	// Edition and Stickers constrain item variants. Empty means any.
	Edition  string
	Stickers []string

	// Score is the contribution of this clause to a Should match.
	Score int

	// Label is a semantic grouping tag shared by related clauses.
	Label string

	// MinCount is the minimum number of occurrences. Zero means one.
	MinCount int

	// Sources restricts where the item may be found (e.g. "shop", "pack").
	// PackPositions restricts the position within a booster pack.
	Sources       []string
	PackPositions []int
}

func (Leaf) clause() {}

// Operator combines child clauses with AND/OR semantics.
type Operator struct {
	Kind     OperatorKind
	Children []Clause

	// Score and Label mirror the leaf fields for scored operator groups.
	Score int
	Label string

	// Mode is an optional engine-specific evaluation hint.
	Mode string
}

func (Operator) clause() {}

// Tree is an immutable criteria tree with three named roots. Must clauses
// combine with AND semantics, Should clauses contribute score, and MustNot
// clauses are negated Must. The display fields carry no matching semantics
// and are excluded from the fingerprint.
type Tree struct {
	// Display metadata. Not fingerprinted.
	Name        string
	Description string
	Author      string
	UpdatedAt   time.Time

	Must    []Clause
	Should  []Clause
	MustNot []Clause
}

// Leaves returns every leaf reachable from the given clauses, depth-first.
func Leaves(clauses []Clause) []Leaf {
	var out []Leaf

	for _, c := range clauses {
		switch n := c.(type) {
		case Leaf:
			out = append(out, n)
		case *Leaf:
			out = append(out, *n)
		case Operator:
			out = append(out, Leaves(n.Children)...)
		case *Operator:
			out = append(out, Leaves(n.Children)...)
		}
	}

	return out
}
