package parser

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Supported document types.
const (
	MIMEPDF      = "application/pdf"
	MIMEDOCX     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MIMEText     = "text/plain"
	MIMEMarkdown = "text/markdown"
	MIMEHTML     = "text/html"
)

// ErrUnsupported is returned for content that is not a recognized document format.
var ErrUnsupported = errors.New("unsupported document format")

// Detect sniffs the document type from its content. The filename is only
// consulted to tell markdown from plain text and to recognize a docx whose
// archive layout hides it from content sniffing.
func Detect(data []byte, filename string) (string, error) {
	m := mimetype.Detect(data)
	ext := strings.ToLower(filepath.Ext(filename))

	switch {
	case m.Is(MIMEPDF):
		return MIMEPDF, nil
	case m.Is(MIMEDOCX):
		return MIMEDOCX, nil
	case m.Is("application/zip") && ext == ".docx":
		return MIMEDOCX, nil
	case m.Is(MIMEHTML):
		return MIMEHTML, nil
	case isText(m):
		if ext == ".md" || ext == ".markdown" {
			return MIMEMarkdown, nil
		}
		return MIMEText, nil
	}
	return "", ErrUnsupported
}

func isText(m *mimetype.MIME) bool {
	for p := m; p != nil; p = p.Parent() {
		if p.Is(MIMEText) {
			return true
		}
	}
	return false
}
