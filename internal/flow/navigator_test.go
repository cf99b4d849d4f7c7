package flow

import (
	"reflect"
	"sort"
	"testing"

	"github.com/BTreeMap/MenuPipe/internal/models"
)

// testFlow builds the fixture graph used across the flow tests:
//
//	root (common)
//	├── 1: main (menu)            <- entry node
//	│   ├── 1: hours
//	│   │   ├── 1: hours-menu (menu)
//	│   │   └── 2: hours-out (output, text)
//	│   ├── 2: pics
//	│   │   └── 1: pic-out (output, image)
//	│   └── 3: mixed
//	│       ├── 1: mixed-txt (output, text)
//	│       └── 2: mixed-pic (output, image)
//	└── 2: about (output, text)
func testFlow() *models.Flow {
	return &models.Flow{
		ID:              "flow-1",
		AccountID:       "acct-1",
		TriggerKeywords: []string{"info", "Clinic"},
		Nodes: []models.FlowNode{
			{ID: "root", ParentNode: models.RootSentinel, Kind: models.NodeKindCommon,
				Data: models.NodeData{MediaType: models.MediaTypeMessage, MediaValue: "Welcome to Acme"}},
			{ID: "about", ParentNode: "root", Kind: models.NodeKindOutput,
				Data: models.NodeData{MediaType: models.MediaTypeMessage, MediaValue: "We are Acme", Index: "2"}},
			{ID: "main", ParentNode: "root", Kind: models.NodeKindMenu,
				Data: models.NodeData{MediaType: models.MediaTypeMessage, MediaValue: "Main menu", Index: "1"}},
			{ID: "hours", ParentNode: "main", Kind: models.NodeKindMenu,
				Data: models.NodeData{MediaType: models.MediaTypeMessage, MediaValue: "Opening hours", Index: "1"}},
			{ID: "pics", ParentNode: "main", Kind: models.NodeKindMenu,
				Data: models.NodeData{MediaType: models.MediaTypeMessage, MediaValue: "Pictures", Index: "2"}},
			{ID: "hours-menu", ParentNode: "hours", Kind: models.NodeKindMenu,
				Data: models.NodeData{MediaType: models.MediaTypeMessage, MediaValue: "Hours by location", Index: "1"}},
			{ID: "hours-out", ParentNode: "hours", Kind: models.NodeKindOutput,
				Data: models.NodeData{MediaType: models.MediaTypeMessage, MediaValue: `Open 9-5\nMon-Fri`, Index: "2"}},
			{ID: "pic-out", ParentNode: "pics", Kind: models.NodeKindOutput,
				Data: models.NodeData{MediaType: models.MediaTypeImage, MediaValue: "https://example.com/storefront.jpg", Index: "1"}},
			{ID: "mixed", ParentNode: "main", Kind: models.NodeKindMenu,
				Data: models.NodeData{MediaType: models.MediaTypeMessage, MediaValue: "Photo tour", Index: "3"}},
			{ID: "mixed-txt", ParentNode: "mixed", Kind: models.NodeKindOutput,
				Data: models.NodeData{MediaType: models.MediaTypeMessage, MediaValue: `See you soon\nCheers`, Index: "1"}},
			{ID: "mixed-pic", ParentNode: "mixed", Kind: models.NodeKindOutput,
				Data: models.NodeData{MediaType: models.MediaTypeImage, MediaValue: "https://example.com/tour.jpg", Index: "2"}},
		},
	}
}

func TestFlowValidate(t *testing.T) {
	f := testFlow()
	if err := f.Validate(); err != nil {
		t.Fatalf("fixture flow should validate, got %v", err)
	}

	noRoot := testFlow()
	noRoot.Nodes = noRoot.Nodes[1:]
	if err := noRoot.Validate(); err != models.ErrNoRootNode {
		t.Errorf("expected ErrNoRootNode, got %v", err)
	}

	dup := testFlow()
	dup.Nodes = append(dup.Nodes, dup.Nodes[1])
	if err := dup.Validate(); err != models.ErrDuplicateNodeID {
		t.Errorf("expected ErrDuplicateNodeID, got %v", err)
	}

	noKeywords := testFlow()
	noKeywords.TriggerKeywords = nil
	if err := noKeywords.Validate(); err != models.ErrNoTriggerKeywords {
		t.Errorf("expected ErrNoTriggerKeywords, got %v", err)
	}
}

func TestOrderedChildrenNumericOrder(t *testing.T) {
	f := testFlow()
	children := OrderedChildren(f, "root")
	if len(children) != 2 {
		t.Fatalf("expected 2 root children, got %d", len(children))
	}
	if children[0].ID != "main" || children[1].ID != "about" {
		t.Errorf("expected [main about], got [%s %s]", children[0].ID, children[1].ID)
	}
}

func TestOrderedChildrenSortIdempotent(t *testing.T) {
	f := testFlow()
	first := OrderedChildren(f, "main")
	if len(first) != 3 {
		t.Fatalf("expected 3 main children, got %d", len(first))
	}

	// Repeated calls yield the same order.
	second := OrderedChildren(f, "main")
	if !reflect.DeepEqual(first, second) {
		t.Errorf("ordering not stable across calls: %+v vs %+v", first, second)
	}

	// Re-sorting an already-sorted slice changes nothing.
	resorted := make([]models.FlowNode, len(first))
	copy(resorted, first)
	sort.SliceStable(resorted, func(i, j int) bool {
		return CompareIndex(resorted[i].Data.Index, resorted[j].Data.Index) < 0
	})
	if !reflect.DeepEqual(resorted, first) {
		t.Errorf("re-sort changed the order: %+v vs %+v", resorted, first)
	}
}

func TestCompareIndex(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1", "2", -1},
		{"2", "10", -1}, // numeric, not lexicographic
		{"10", "2", 1},
		{"3", "3", 0},
		{"1", "a", -1}, // numeric sorts before non-numeric
		{"a", "1", 1},
		{"a", "b", -1},
	}
	for _, c := range cases {
		if got := CompareIndex(c.a, c.b); got != c.want {
			t.Errorf("CompareIndex(%q, %q) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestClassify(t *testing.T) {
	f := testFlow()
	cls := Classify(OrderedChildren(f, "hours"))
	if len(cls.Menus) != 1 || cls.Menus[0].ID != "hours-menu" {
		t.Errorf("expected one menu child hours-menu, got %+v", cls.Menus)
	}
	if len(cls.Outputs) != 1 || cls.Outputs[0].ID != "hours-out" {
		t.Errorf("expected one output child hours-out, got %+v", cls.Outputs)
	}
}

func TestMatchTrigger(t *testing.T) {
	f := testFlow()
	cases := []struct {
		body string
		want bool
	}{
		{"info", true},
		{"INFO", true},
		{"clinic", true}, // keywords compare case-insensitively too
		{"hello info please", true},
		{"information", false}, // whole-token only
		{"", false},
		{"   ", false},
		{"hello", false},
	}
	for _, c := range cases {
		if got := MatchTrigger(f, c.body); got != c.want {
			t.Errorf("MatchTrigger(%q) = %v, want %v", c.body, got, c.want)
		}
	}
}

func TestMatchSelection(t *testing.T) {
	f := testFlow()
	children := OrderedChildren(f, "main")

	if n := MatchSelection(children, " 1 "); n == nil || n.ID != "hours" {
		t.Errorf("expected selection 1 to match hours, got %+v", n)
	}
	if n := MatchSelection(children, "2"); n == nil || n.ID != "pics" {
		t.Errorf("expected selection 2 to match pics, got %+v", n)
	}
	if n := MatchSelection(children, "3"); n == nil || n.ID != "mixed" {
		t.Errorf("expected selection 3 to match mixed, got %+v", n)
	}
	if n := MatchSelection(children, "4"); n != nil {
		t.Errorf("expected no match for 4, got %+v", n)
	}
	if n := MatchSelection(children, ""); n != nil {
		t.Errorf("expected no match for empty body, got %+v", n)
	}
}

func TestExpandEscapes(t *testing.T) {
	if got := ExpandEscapes(`Open 9-5\nMon-Fri`); got != "Open 9-5\nMon-Fri" {
		t.Errorf("unexpected expansion: %q", got)
	}
	if got := ExpandEscapes("no escapes"); got != "no escapes" {
		t.Errorf("plain text should be untouched, got %q", got)
	}
}

func TestEntryNode(t *testing.T) {
	f := testFlow()
	entry := EntryNode(f)
	if entry == nil || entry.ID != "main" {
		t.Fatalf("expected entry node main, got %+v", entry)
	}

	// A flow whose root has no Menu child positions entry at the root itself.
	leafy := &models.Flow{
		ID:              "flow-2",
		AccountID:       "acct-1",
		TriggerKeywords: []string{"leaf"},
		Nodes: []models.FlowNode{
			{ID: "root", ParentNode: models.RootSentinel, Kind: models.NodeKindCommon,
				Data: models.NodeData{MediaType: models.MediaTypeMessage, MediaValue: "Just text"}},
			{ID: "out", ParentNode: "root", Kind: models.NodeKindOutput,
				Data: models.NodeData{MediaType: models.MediaTypeMessage, MediaValue: "Leaf", Index: "1"}},
		},
	}
	entry = EntryNode(leafy)
	if entry == nil || entry.ID != "root" {
		t.Fatalf("expected fallback to root, got %+v", entry)
	}

	empty := &models.Flow{ID: "flow-3"}
	if EntryNode(empty) != nil {
		t.Error("expected nil entry for flow without nodes")
	}
}
