package criteria

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Document decode errors.
var (
	ErrClauseShape = errors.New("criteria: clause must be either an item or exactly one of all/any")
	ErrEmptyTree   = errors.New("criteria: document has no must, should, or must_not clauses")
)

// document is the YAML on-disk form of a criteria tree.
type document struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description,omitempty"`
	Author      string    `yaml:"author,omitempty"`
	UpdatedAt   time.Time `yaml:"updated_at,omitempty"`

	Must    []clauseDoc `yaml:"must,omitempty"`
	Should  []clauseDoc `yaml:"should,omitempty"`
	MustNot []clauseDoc `yaml:"must_not,omitempty"`
}

// clauseDoc is a recursive clause: either an item leaf (Item non-empty) or
// an operator (exactly one of All/Any non-empty).
type clauseDoc struct {
	Item          string   `yaml:"item,omitempty"`
	Name          string   `yaml:"name,omitempty"`
	Values        []string `yaml:"values,omitempty"`
	Antes         []int    `yaml:"antes,omitempty"`
	Edition       string   `yaml:"edition,omitempty"`
	Stickers      []string `yaml:"stickers,omitempty"`
	Score         int      `yaml:"score,omitempty"`
	Label         string   `yaml:"label,omitempty"`
	MinCount      int      `yaml:"min,omitempty"`
	Sources       []string `yaml:"sources,omitempty"`
	PackPositions []int    `yaml:"pack_positions,omitempty"`
	Mode          string   `yaml:"mode,omitempty"`

	All []clauseDoc `yaml:"all,omitempty"`
	Any []clauseDoc `yaml:"any,omitempty"`
}

// LoadTree reads and decodes a criteria document from path.
func LoadTree(path string) (*Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read criteria document: %w", err)
	}

	return DecodeTree(data)
}

// DecodeTree decodes a YAML criteria document.
func DecodeTree(data []byte) (*Tree, error) {
	var doc document

	err := yaml.Unmarshal(data, &doc)
	if err != nil {
		return nil, fmt.Errorf("decode criteria document: %w", err)
	}

	if len(doc.Must) == 0 && len(doc.Should) == 0 && len(doc.MustNot) == 0 {
		return nil, ErrEmptyTree
	}

	tree := &Tree{
		Name:        doc.Name,
		Description: doc.Description,
		Author:      doc.Author,
		UpdatedAt:   doc.UpdatedAt,
	}

	for _, root := range []struct {
		docs []clauseDoc
		dst  *[]Clause
	}{
		{doc.Must, &tree.Must},
		{doc.Should, &tree.Should},
		{doc.MustNot, &tree.MustNot},
	} {
		clauses, err := decodeClauses(root.docs)
		if err != nil {
			return nil, err
		}

		*root.dst = clauses
	}

	return tree, nil
}

// SaveTree encodes the tree as YAML and writes it to path.
func SaveTree(path string, tree *Tree) error {
	doc := document{
		Name:        tree.Name,
		Description: tree.Description,
		Author:      tree.Author,
		UpdatedAt:   tree.UpdatedAt,
		Must:        encodeClauses(tree.Must),
		Should:      encodeClauses(tree.Should),
		MustNot:     encodeClauses(tree.MustNot),
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode criteria document: %w", err)
	}

	err = os.WriteFile(path, data, 0o600)
	if err != nil {
		return fmt.Errorf("write criteria document: %w", err)
	}

	return nil
}

func decodeClauses(docs []clauseDoc) ([]Clause, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	clauses := make([]Clause, 0, len(docs))

	for _, d := range docs {
		c, err := decodeClause(d)
		if err != nil {
			return nil, err
		}

		clauses = append(clauses, c)
	}

	return clauses, nil
}

func decodeClause(d clauseDoc) (Clause, error) {
	isLeaf := d.Item != ""
	hasAll := len(d.All) > 0
	hasAny := len(d.Any) > 0

	switch {
	case isLeaf && (hasAll || hasAny), hasAll && hasAny, !isLeaf && !hasAll && !hasAny:
		return nil, fmt.Errorf("%w (item=%q)", ErrClauseShape, d.Item)
	case isLeaf:
		return Leaf{
			ItemType:      d.Item,
			Name:          d.Name,
			Values:        d.Values,
			Antes:         d.Antes,
			Edition:       d.Edition,
			Stickers:      d.Stickers,
			Score:         d.Score,
			Label:         d.Label,
			MinCount:      d.MinCount,
			Sources:       d.Sources,
			PackPositions: d.PackPositions,
		}, nil
	}

	kind := OpAnd
	children := d.All

	if hasAny {
		kind = OpOr
		children = d.Any
	}

	decoded, err := decodeClauses(children)
	if err != nil {
		return nil, err
	}

	return Operator{
		Kind:     kind,
		Children: decoded,
		Score:    d.Score,
		Label:    d.Label,
		Mode:     d.Mode,
	}, nil
}

func encodeClauses(clauses []Clause) []clauseDoc {
	if len(clauses) == 0 {
		return nil
	}

	docs := make([]clauseDoc, 0, len(clauses))
	for _, c := range clauses {
		docs = append(docs, encodeClause(c))
	}

	return docs
}

func encodeClause(c Clause) clauseDoc {
	switch n := c.(type) {
	case Leaf:
		return clauseDoc{
			Item:          n.ItemType,
			Name:          n.Name,
			Values:        n.Values,
			Antes:         n.Antes,
			Edition:       n.Edition,
			Stickers:      n.Stickers,
			Score:         n.Score,
			Label:         n.Label,
			MinCount:      n.MinCount,
			Sources:       n.Sources,
			PackPositions: n.PackPositions,
		}
	case Operator:
		doc := clauseDoc{Score: n.Score, Label: n.Label, Mode: n.Mode}
		children := encodeClauses(n.Children)

		if n.Kind == OpOr {
			doc.Any = children
		} else {
			doc.All = children
		}

		return doc
	default:
		return clauseDoc{}
	}
}
