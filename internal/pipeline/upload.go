package pipeline

import (
	"fmt"

	"github.com/dgallion1/recordlens/internal/parser"
	"github.com/dgallion1/recordlens/internal/record"
)

// validateUpload checks size bounds and document type, returning the
// detected MIME type.
func (o *Orchestrator) validateUpload(up Upload) (string, error) {
	n := int64(len(up.Data))
	if n > o.opts.MaxUploadBytes {
		return "", &record.UploadValidationError{
			Reason:   fmt.Sprintf("file is %d bytes, the limit is %d", n, o.opts.MaxUploadBytes),
			TooLarge: true,
		}
	}
	if n == 0 || n < o.opts.MinUploadBytes {
		return "", &record.UploadValidationError{
			Reason: fmt.Sprintf("file is %d bytes, the minimum is %d", n, o.opts.MinUploadBytes),
		}
	}
	mime, err := parser.Detect(up.Data, up.Filename)
	if err != nil {
		return "", &record.UploadValidationError{
			Reason: "unsupported file type; upload a PDF, DOCX, text, markdown or HTML document",
		}
	}
	return mime, nil
}
