package parser

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/dgallion1/recordlens/internal/doctree"
	"github.com/fumiama/go-docx"
)

// DOCXParser handles .docx files. Student records exported to Word are
// mostly tables, so cell paragraphs are read line by line.
type DOCXParser struct{}

func (p *DOCXParser) Parse(r io.Reader, filename string) (*doctree.DocTree, error) {
	// go-docx needs a ReaderAt plus size.
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read docx: %w", err)
	}
	doc, err := docx.Parse(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("parse docx: %w", err)
	}

	o := newOutline(trimExt(filename))
	for _, item := range doc.Document.Body.Items {
		switch it := item.(type) {
		case *docx.Paragraph:
			text := docxParagraphText(it)
			if level := docxHeadingLevel(it); level > 0 && text != "" {
				o.heading(level, text)
			} else {
				o.paragraph(text)
			}
		case *docx.Table:
			docxTable(o, it)
			o.flush()
		}
	}
	return o.tree(), nil
}

func docxTable(o *outline, t *docx.Table) {
	for _, row := range t.TableRows {
		for _, cell := range row.TableCells {
			for _, para := range cell.Paragraphs {
				o.line(docxParagraphText(para))
			}
			for _, nested := range cell.Tables {
				docxTable(o, nested)
			}
		}
	}
}

func docxHeadingLevel(para *docx.Paragraph) int {
	if para.Properties == nil || para.Properties.Style == nil {
		return 0
	}
	style := strings.ToLower(strings.ReplaceAll(para.Properties.Style.Val, " ", ""))
	if !strings.HasPrefix(style, "heading") || len(style) != len("heading")+1 {
		return 0
	}
	if d := style[len(style)-1]; d >= '1' && d <= '6' {
		return int(d - '0')
	}
	return 0
}

func docxParagraphText(para *docx.Paragraph) string {
	var buf strings.Builder
	for _, child := range para.Children {
		run, ok := child.(*docx.Run)
		if !ok {
			continue
		}
		for _, rc := range run.Children {
			switch t := rc.(type) {
			case *docx.Text:
				buf.WriteString(t.Text)
			case *docx.Tab:
				buf.WriteString(" ")
			case *docx.BarterRabbet:
				buf.WriteString("\n")
			}
		}
	}
	return strings.TrimSpace(buf.String())
}
