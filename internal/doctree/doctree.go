package doctree

import "strings"

// DocTree is the root of a parsed document.
type DocTree struct {
	Title    string     // Document title (from metadata or filename)
	Children []*DocNode // Top-level sections
}

// DocNode is a recursive section in the document tree.
type DocNode struct {
	Title    string     // Section heading (empty for leaf text)
	Text     string     // Text content of this node (may be empty for container nodes)
	Page     int        // Source page (0 if N/A)
	Children []*DocNode // Subsections
}

// Walk visits every node depth-first in document order.
func (t *DocTree) Walk(fn func(n *DocNode, depth int)) {
	var visit func(n *DocNode, depth int)
	visit = func(n *DocNode, depth int) {
		fn(n, depth)
		for _, c := range n.Children {
			visit(c, depth+1)
		}
	}
	for _, c := range t.Children {
		visit(c, 0)
	}
}

// PlainText flattens the tree. Each heading sits on its own line so that
// section markers can be found at line starts.
func (t *DocTree) PlainText() string {
	var sb strings.Builder
	t.Walk(func(n *DocNode, _ int) {
		if n.Title != "" {
			sb.WriteString(n.Title)
			sb.WriteString("\n")
		}
		if n.Text != "" {
			sb.WriteString(n.Text)
			sb.WriteString("\n\n")
		}
	})
	return strings.TrimSpace(sb.String())
}
