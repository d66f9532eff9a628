package ledger

import (
	"fmt"
	"sort"
	"strings"
)

// ChangeKind classifies a difference between two runs.
type ChangeKind string

const (
	// ChangeAdded marks a node present only in the second run.
	ChangeAdded ChangeKind = "added"
	// ChangeRemoved marks a node present only in the first run.
	ChangeRemoved ChangeKind = "removed"
	// ChangeStatus marks a node whose outcome or status line differs.
	ChangeStatus ChangeKind = "status"
	// ChangeChecksum marks a node whose output files differ.
	ChangeChecksum ChangeKind = "checksum"
)

// Change is one node-level difference.
type Change struct {
	Node   string
	Kind   ChangeKind
	Detail string
}

func (c Change) String() string {
	if c.Detail == "" {
		return fmt.Sprintf("%s: %s", c.Node, c.Kind)
	}
	return fmt.Sprintf("%s: %s: %s", c.Node, c.Kind, c.Detail)
}

// Diff compares the job records of two runs node by node. Changes are
// ordered by node; a node can have both a status and a checksum change.
func Diff(a, b []JobRecord) []Change {
	left := indexByNode(a)
	right := indexByNode(b)

	nodes := make([]string, 0, len(left)+len(right))
	for n := range left {
		nodes = append(nodes, n)
	}
	for n := range right {
		if _, ok := left[n]; !ok {
			nodes = append(nodes, n)
		}
	}
	sort.Strings(nodes)

	var changes []Change
	for _, n := range nodes {
		l, inLeft := left[n]
		r, inRight := right[n]
		switch {
		case !inRight:
			changes = append(changes, Change{Node: n, Kind: ChangeRemoved})
			continue
		case !inLeft:
			changes = append(changes, Change{Node: n, Kind: ChangeAdded})
			continue
		}

		if l.OK != r.OK || l.Status != r.Status {
			changes = append(changes, Change{
				Node:   n,
				Kind:   ChangeStatus,
				Detail: fmt.Sprintf("%q -> %q", firstLine(l.Status), firstLine(r.Status)),
			})
		}
		if detail := checksumDelta(l, r); detail != "" {
			changes = append(changes, Change{Node: n, Kind: ChangeChecksum, Detail: detail})
		}
	}
	return changes
}

func indexByNode(recs []JobRecord) map[string]JobRecord {
	m := make(map[string]JobRecord, len(recs))
	for _, r := range recs {
		m[r.Node] = r
	}
	return m
}

func checksumDelta(a, b JobRecord) string {
	left := make(map[string]uint64, len(a.Checksums))
	for _, c := range a.Checksums {
		left[c.File] = c.Sum
	}
	right := make(map[string]uint64, len(b.Checksums))
	for _, c := range b.Checksums {
		right[c.File] = c.Sum
	}

	var diffs []string
	for f, sum := range left {
		other, ok := right[f]
		switch {
		case !ok:
			diffs = append(diffs, "-"+f)
		case other != sum:
			diffs = append(diffs, "~"+f)
		}
	}
	for f := range right {
		if _, ok := left[f]; !ok {
			diffs = append(diffs, "+"+f)
		}
	}
	sort.Slice(diffs, func(i, j int) bool { return diffs[i][1:] < diffs[j][1:] })
	return strings.Join(diffs, " ")
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
