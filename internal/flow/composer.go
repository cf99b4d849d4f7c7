package flow

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/MenuPipe/internal/models"
)

// Reply composition constants
const (
	// MenuLineFormat is the format string for one selectable child line,
	// keyed by the child's index digit.
	MenuLineFormat = "%s. %s"
	// GreetingFormat is the personalized greeting prefix on entry replies.
	GreetingFormat = "Hi %s!"
	// MainMenuFooter is appended to sub-menu replies.
	MainMenuFooter = "0 for main menu"
	// OptOutHint is appended to the main-menu (entry) reply.
	OptOutHint = "Send 'stop' to opt out"
)

// ComposeEntryReply builds the full entry/main-menu reply for a flow: an
// optional greeting, a header derived from the root node's content, one line
// per ordered child and the opt-out hint. The result is deterministic for a
// given node set and ordering.
func ComposeEntryReply(f *models.Flow, displayName string) string {
	root := f.Root()
	if root == nil {
		return ""
	}
	var sb strings.Builder
	if displayName != "" {
		sb.WriteString(fmt.Sprintf(GreetingFormat, displayName))
		sb.WriteString("\n")
	}
	if header := nodeDisplayText(*root); header != "" {
		sb.WriteString(header)
		sb.WriteString("\n")
	}
	writeChildLines(&sb, f, root.ID)
	sb.WriteString(OptOutHint)
	return sb.String()
}

// ComposeMenuReply builds a sub-menu reply: one line per ordered child of the
// menu node, followed by the main-menu footer.
func ComposeMenuReply(f *models.Flow, menu models.FlowNode) string {
	var sb strings.Builder
	writeChildLines(&sb, f, menu.ID)
	sb.WriteString(MainMenuFooter)
	return sb.String()
}

func writeChildLines(sb *strings.Builder, f *models.Flow, parentID string) {
	for _, child := range OrderedChildren(f, parentID) {
		sb.WriteString(fmt.Sprintf(MenuLineFormat, child.Data.Index, nodeDisplayText(child)))
		sb.WriteString("\n")
	}
}

// nodeDisplayText returns the text shown for a node in a composed list:
// literal content with escapes expanded, or the raw URL for media nodes.
func nodeDisplayText(n models.FlowNode) string {
	if n.Data.MediaType == models.MediaTypeMessage || n.Data.MediaType == "" {
		return ExpandEscapes(n.Data.MediaValue)
	}
	return n.Data.MediaValue
}
