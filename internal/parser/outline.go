package parser

import (
	"strings"

	"github.com/dgallion1/recordlens/internal/doctree"
)

// outline builds a DocTree from a stream of headings and text blocks,
// nesting each heading under the nearest heading of a lower level.
type outline struct {
	title string
	root  *doctree.DocNode
	stack []outlineEntry
	text  strings.Builder
}

type outlineEntry struct {
	node  *doctree.DocNode
	level int
}

func newOutline(title string) *outline {
	root := &doctree.DocNode{Title: title}
	return &outline{
		title: title,
		root:  root,
		stack: []outlineEntry{{node: root, level: 0}},
	}
}

func (o *outline) heading(level int, title string) {
	o.flush()
	n := &doctree.DocNode{Title: title}
	for len(o.stack) > 1 && o.stack[len(o.stack)-1].level >= level {
		o.stack = o.stack[:len(o.stack)-1]
	}
	parent := o.stack[len(o.stack)-1].node
	parent.Children = append(parent.Children, n)
	o.stack = append(o.stack, outlineEntry{node: n, level: level})
}

// paragraph appends a text block separated by a blank line.
func (o *outline) paragraph(t string) {
	o.add(t, "\n\n")
}

// line appends text on its own line, used for table cells.
func (o *outline) line(t string) {
	o.add(t, "\n")
}

func (o *outline) add(t, sep string) {
	t = strings.TrimSpace(t)
	if t == "" {
		return
	}
	if o.text.Len() > 0 {
		o.text.WriteString(sep)
	}
	o.text.WriteString(t)
}

func (o *outline) flush() {
	t := strings.TrimSpace(o.text.String())
	o.text.Reset()
	if t == "" {
		return
	}
	top := o.stack[len(o.stack)-1].node
	if top.Text != "" {
		top.Text += "\n\n" + t
	} else {
		top.Text = t
	}
}

// tree finishes the outline. Text before the first heading is kept as a
// leading untitled node.
func (o *outline) tree() *doctree.DocTree {
	o.flush()
	t := &doctree.DocTree{Title: o.title}
	if o.root.Text != "" {
		t.Children = append(t.Children, &doctree.DocNode{Text: o.root.Text})
	}
	t.Children = append(t.Children, o.root.Children...)
	return t
}
