package parser

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/dgallion1/recordlens/internal/doctree"
)

const pdftotextTimeout = 60 * time.Second

// Parser converts raw document bytes into a DocTree.
type Parser interface {
	Parse(r io.Reader, filename string) (*doctree.DocTree, error)
}

// Options tune parser behavior.
type Options struct {
	FallbackPdftotext bool
}

// ForMIME returns the parser for one of the supported MIME types.
func ForMIME(mime string, opts Options) (Parser, error) {
	switch mime {
	case MIMEText:
		return &TextParser{}, nil
	case MIMEMarkdown:
		return &MarkdownParser{}, nil
	case MIMEHTML:
		return &HTMLParser{}, nil
	case MIMEPDF:
		return &PDFParser{FallbackPdftotext: opts.FallbackPdftotext}, nil
	case MIMEDOCX:
		return &DOCXParser{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, mime)
	}
}

func trimExt(filename string) string {
	base := filepath.Base(filename)
	if base == "." || base == string(filepath.Separator) {
		return ""
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}
