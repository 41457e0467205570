package parser

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/dgallion1/recordlens/internal/doctree"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/transform"
)

// TextParser handles plain text files. Exports from Korean school
// systems are often EUC-KR, so invalid UTF-8 is decoded as EUC-KR.
type TextParser struct{}

func (p *TextParser) Parse(r io.Reader, filename string) (*doctree.DocTree, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	text, err := decodeText(raw)
	if err != nil {
		return nil, err
	}

	tree := &doctree.DocTree{Title: trimExt(filename)}
	for _, para := range splitParagraphs(text) {
		tree.Children = append(tree.Children, &doctree.DocNode{Text: para})
	}
	return tree, nil
}

func decodeText(raw []byte) (string, error) {
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(raw) {
		decoded, _, err := transform.Bytes(korean.EUCKR.NewDecoder(), raw)
		if err != nil {
			return "", fmt.Errorf("decode euc-kr: %w", err)
		}
		raw = decoded
	}
	return strings.ReplaceAll(string(raw), "\r\n", "\n"), nil
}

// splitParagraphs splits on blank lines, keeping line breaks inside a paragraph.
func splitParagraphs(text string) []string {
	var out []string
	var current []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			if len(current) > 0 {
				out = append(out, strings.Join(current, "\n"))
				current = nil
			}
			continue
		}
		current = append(current, strings.TrimRight(line, " \t\r"))
	}
	if len(current) > 0 {
		out = append(out, strings.Join(current, "\n"))
	}
	return out
}
