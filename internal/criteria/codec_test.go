package criteria

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDocument = `
name: legendary opener
description: early copy jokers
must:
  - item: joker
    name: Blueprint
    antes: [1, 2]
    score: 10
  - any:
      - item: voucher
        name: Overstock
      - item: voucher
        name: Clearance Sale
should:
  - item: tag
    name: Negative Tag
    score: 5
must_not:
  - item: joker
    name: Gros Michel
`

func TestDecodeTree_Sample(t *testing.T) {
	t.Parallel()

	tree, err := DecodeTree([]byte(sampleDocument))
	require.NoError(t, err)

	assert.Equal(t, "legendary opener", tree.Name)
	require.Len(t, tree.Must, 2)
	require.Len(t, tree.Should, 1)
	require.Len(t, tree.MustNot, 1)

	leaf, ok := tree.Must[0].(Leaf)
	require.True(t, ok, "first must clause should be a leaf")
	assert.Equal(t, "Blueprint", leaf.Name)
	assert.Equal(t, []int{1, 2}, leaf.Antes)

	op, ok := tree.Must[1].(Operator)
	require.True(t, ok, "second must clause should be an operator")
	assert.Equal(t, OpOr, op.Kind)
	assert.Len(t, op.Children, 2)
}

func TestDecodeTree_RejectsEmptyDocument(t *testing.T) {
	t.Parallel()

	_, err := DecodeTree([]byte("name: nothing here\n"))
	require.ErrorIs(t, err, ErrEmptyTree)
}

func TestDecodeTree_RejectsMalformedClause(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"leaf and operator": `
must:
  - item: joker
    name: Blueprint
    all:
      - item: joker
        name: Brainstorm
`,
		"all and any": `
must:
  - all:
      - item: joker
        name: Blueprint
    any:
      - item: joker
        name: Brainstorm
`,
		"neither": `
must:
  - score: 3
`,
	}

	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := DecodeTree([]byte(doc))
			require.ErrorIs(t, err, ErrClauseShape)
		})
	}
}

func TestSaveLoadTree_RoundTripPreservesFingerprint(t *testing.T) {
	t.Parallel()

	tree, err := DecodeTree([]byte(sampleDocument))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "opener.yaml")
	require.NoError(t, SaveTree(path, tree))

	loaded, err := LoadTree(path)
	require.NoError(t, err)

	assert.True(t, ComputeFingerprint(tree).Equal(ComputeFingerprint(loaded)),
		"round trip changed the fingerprint")
}

func TestValidateDocument(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidateDocument([]byte(sampleDocument)))

	err := ValidateDocument([]byte("must:\n  - item: joker\n    bogus_field: 1\n"))
	require.Error(t, err)

	if !errors.Is(err, ErrSchemaViolation) {
		t.Fatalf("unexpected error kind: %v", err)
	}
}
