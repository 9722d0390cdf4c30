package criteria

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Fingerprint is a hex-encoded digest of a tree's matching semantics.
// Two trees that match the same seeds produce the same fingerprint even
// when their display metadata or clause ordering differ.
type Fingerprint string

// fieldSep and leafSep delimit the canonical serialization. Both are
// characters that cannot appear in item names.
const (
	fieldSep = "\x1f"
	leafSep  = "\x1e"
)

// ComputeFingerprint digests the canonical serialization of the tree's
// Must, Should, and MustNot leaves. Each root is serialized independently
// so moving a clause between roots always changes the digest.
func ComputeFingerprint(t *Tree) Fingerprint {
	h := sha256.New()

	for _, root := range []struct {
		name    string
		clauses []Clause
	}{
		{"must", t.Must},
		{"should", t.Should},
		{"mustnot", t.MustNot},
	} {
		h.Write([]byte(root.name))
		h.Write([]byte{0})
		h.Write([]byte(canonicalLeaves(root.clauses)))
		h.Write([]byte{0})
	}

	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}

// canonicalLeaves serializes leaves in a stable, order-insensitive form:
// one record per leaf, records sorted lexicographically.
func canonicalLeaves(clauses []Clause) string {
	leaves := Leaves(clauses)

	records := make([]string, 0, len(leaves))
	for _, l := range leaves {
		records = append(records, canonicalLeaf(l))
	}

	sort.Strings(records)

	return strings.Join(records, leafSep)
}

func canonicalLeaf(l Leaf) string {
	fields := []string{
		l.ItemType,
		l.Name,
		sortedJoin(l.Values),
		strconv.Itoa(l.Score),
		strconv.Itoa(l.MinCount),
		l.Edition,
		l.Label,
		sortedJoinInts(l.Antes),
		sortedJoin(l.Stickers),
		sortedJoin(l.Sources),
		sortedJoinInts(l.PackPositions),
	}

	return strings.Join(fields, fieldSep)
}

func sortedJoin(values []string) string {
	if len(values) == 0 {
		return ""
	}

	sorted := make([]string, len(values))
	copy(sorted, values)
	sort.Strings(sorted)

	return strings.Join(sorted, ",")
}

func sortedJoinInts(values []int) string {
	if len(values) == 0 {
		return ""
	}

	sorted := make([]int, len(values))
	copy(sorted, values)
	sort.Ints(sorted)

	parts := make([]string, len(sorted))
	for i, v := range sorted {
		parts[i] = strconv.Itoa(v)
	}

	return strings.Join(parts, ",")
}

// Equal reports whether two fingerprints match. An empty fingerprint never
// equals anything, including another empty fingerprint: a missing baseline
// must always be treated as changed.
func (f Fingerprint) Equal(other Fingerprint) bool {
	if f == "" || other == "" {
		return false
	}

	return f == other
}

// Short returns a truncated form for log output.
func (f Fingerprint) Short() string {
	const shortLen = 12

	if len(f) <= shortLen {
		return string(f)
	}

	return fmt.Sprintf("%s…", string(f[:shortLen]))
}
