package parser

import (
	"bytes"
	"io"
	"strings"

	"github.com/dgallion1/recordlens/internal/doctree"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// MarkdownParser handles Markdown files using goldmark.
type MarkdownParser struct{}

func (p *MarkdownParser) Parse(r io.Reader, filename string) (*doctree.DocTree, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	doc := goldmark.New().Parser().Parse(text.NewReader(src))
	o := newOutline(trimExt(filename))

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		switch node := n.(type) {
		case *ast.Heading:
			o.heading(node.Level, inlineText(node, src))
		case *ast.List:
			for item := node.FirstChild(); item != nil; item = item.NextSibling() {
				o.line(blockText(item, src))
			}
		default:
			o.paragraph(blockText(n, src))
		}
	}
	return o.tree(), nil
}

// blockText gets the text content of a goldmark block, keeping line breaks.
func blockText(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	if n.Type() == ast.TypeBlock && n.FirstChild() == nil {
		lines := n.Lines()
		for i := 0; i < lines.Len(); i++ {
			line := lines.At(i)
			buf.Write(line.Value(src))
		}
		return strings.TrimSpace(buf.String())
	}
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if c.Type() == ast.TypeBlock {
			if buf.Len() > 0 {
				buf.WriteByte('\n')
			}
			buf.WriteString(blockText(c, src))
			continue
		}
		buf.WriteString(inlineText(c, src))
	}
	return strings.TrimSpace(buf.String())
}

// inlineText concatenates the text leaves under n.
func inlineText(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if t, ok := c.(*ast.Text); ok {
			buf.Write(t.Segment.Value(src))
			if t.HardLineBreak() || t.SoftLineBreak() {
				buf.WriteByte('\n')
			}
		}
		return ast.WalkContinue, nil
	})
	return buf.String()
}
