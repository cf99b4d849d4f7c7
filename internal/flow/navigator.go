// Package flow implements the conversational flow execution engine for
// MenuPipe: graph navigation, session resolution, message dispatch, reply
// composition and delayed tracker reactivation.
package flow

import (
	"sort"
	"strconv"
	"strings"

	"github.com/BTreeMap/MenuPipe/internal/models"
)

// Navigator functions are pure logic over a flow's node set. They perform no
// I/O and never fail on malformed input; absence is represented as empty
// results, and the caller decides whether "no match" is meaningful.

// ChildrenOf returns all nodes whose parent is parentID, in authoring order.
func ChildrenOf(f *models.Flow, parentID string) []models.FlowNode {
	var children []models.FlowNode
	for _, n := range f.Nodes {
		if n.ParentNode == parentID {
			children = append(children, n)
		}
	}
	return children
}

// OrderedChildren returns ChildrenOf sorted ascending by the index key.
// Indexes that parse as integers compare numerically and sort before
// non-numeric indexes; non-numeric indexes compare lexicographically. The
// sort is stable, so equal keys keep authoring order. The ordering key is the
// same field users send to select a child, so the display order and the
// selection digits always agree.
func OrderedChildren(f *models.Flow, parentID string) []models.FlowNode {
	children := ChildrenOf(f, parentID)
	sort.SliceStable(children, func(i, j int) bool {
		return CompareIndex(children[i].Data.Index, children[j].Data.Index) < 0
	})
	return children
}

// CompareIndex compares two index keys: numeric-aware, lexicographic fallback.
// Returns -1, 0 or 1.
func CompareIndex(a, b string) int {
	ai, aerr := strconv.Atoi(strings.TrimSpace(a))
	bi, berr := strconv.Atoi(strings.TrimSpace(b))
	switch {
	case aerr == nil && berr == nil:
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		default:
			return 0
		}
	case aerr == nil:
		return -1
	case berr == nil:
		return 1
	default:
		return strings.Compare(a, b)
	}
}

// Classified partitions a node set by kind. Outputs preserve the input order.
type Classified struct {
	Menus   []models.FlowNode
	Outputs []models.FlowNode
}

// Classify partitions nodes into Menu and Output subsets by kind. Nodes of
// other kinds are ignored.
func Classify(nodes []models.FlowNode) Classified {
	var c Classified
	for _, n := range nodes {
		switch n.Kind {
		case models.NodeKindMenu:
			c.Menus = append(c.Menus, n)
		case models.NodeKindOutput:
			c.Outputs = append(c.Outputs, n)
		}
	}
	return c
}

// MatchTrigger reports whether any of the flow's trigger keywords appears as
// a whole token in the lower-cased, whitespace-tokenized message text.
func MatchTrigger(f *models.Flow, body string) bool {
	tokens := strings.Fields(strings.ToLower(body))
	if len(tokens) == 0 {
		return false
	}
	for _, kw := range f.TriggerKeywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		for _, tok := range tokens {
			if tok == kw {
				return true
			}
		}
	}
	return false
}

// MatchSelection returns the single child whose index equals the trimmed
// message text, or nil when none matches.
func MatchSelection(children []models.FlowNode, body string) *models.FlowNode {
	selection := strings.TrimSpace(body)
	if selection == "" {
		return nil
	}
	for i := range children {
		if children[i].Data.Index == selection {
			return &children[i]
		}
	}
	return nil
}

// ExpandEscapes replaces two-character `\n` escape sequences in node content
// with real line breaks.
func ExpandEscapes(s string) string {
	return strings.ReplaceAll(s, `\n`, "\n")
}

// EntryNode returns the node a new tracker is positioned at: the root's first
// Menu-kind child in index order. Flows whose root has no Menu child position
// the tracker at the root itself, so selections match against the root's own
// children.
func EntryNode(f *models.Flow) *models.FlowNode {
	root := f.Root()
	if root == nil {
		return nil
	}
	children := OrderedChildren(f, root.ID)
	for i := range children {
		if children[i].Kind == models.NodeKindMenu {
			return &children[i]
		}
	}
	return root
}
