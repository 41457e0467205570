package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/dgallion1/recordlens/internal/record"
)

// ErrNoSections is returned when none of the record section headings are found.
var ErrNoSections = errors.New("no record sections found in document")

// sectionMarkers are the heading texts that open each section, matched
// case-insensitively at the start of a line.
var sectionMarkers = map[record.SectionKey][]string{
	record.SectionCreativeActivities: {
		"창의적 체험활동", "창의적체험활동", "Creative Activities", "Creative Experiential Activities",
	},
	record.SectionAcademicDevelopment: {
		"교과학습발달상황", "교과 학습 발달 상황", "교과학습 발달상황", "Academic Development",
	},
	record.SectionDetailedAbilities: {
		"세부능력 및 특기사항", "세부능력및특기사항", "세부 능력 및 특기 사항", "Detailed Abilities",
	},
}

const maxHeadingTail = 16

// headingPrefix strips list numbering and markdown markers before matching.
var headingPrefix = regexp.MustCompile(`^[\s#*]*(?:\d+[.)]|\(\d+\)|[IVX]+\.|[가-하]\.)?\s*`)

// Extractor is the document-extraction service used by the parsing stage.
type Extractor struct {
	Options Options
}

// Extract parses data of the given MIME type and splits it into record sections.
func (e *Extractor) Extract(ctx context.Context, data []byte, mime, filename string) (record.TextSections, error) {
	if err := ctx.Err(); err != nil {
		return record.TextSections{}, err
	}
	p, err := ForMIME(mime, e.Options)
	if err != nil {
		return record.TextSections{}, err
	}
	tree, err := p.Parse(bytes.NewReader(data), filename)
	if err != nil {
		return record.TextSections{}, err
	}
	return SplitSections(tree.PlainText())
}

type heading struct {
	key        record.SectionKey
	start, end int // byte range of the heading line
}

// SplitSections locates the section headings in text and returns the body
// that follows each one. A section heading that repeats (one block per
// school year) has its bodies joined with a blank line.
func SplitSections(text string) (record.TextSections, error) {
	var found []heading
	offset := 0
	for _, line := range strings.SplitAfter(text, "\n") {
		if key, ok := matchHeading(line); ok {
			found = append(found, heading{key: key, start: offset, end: offset + len(line)})
		}
		offset += len(line)
	}
	if len(found) == 0 {
		return record.TextSections{}, ErrNoSections
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].start < found[j].start })

	bodies := map[record.SectionKey][]string{}
	for i, h := range found {
		end := len(text)
		if i+1 < len(found) {
			end = found[i+1].start
		}
		if body := strings.TrimSpace(text[h.end:end]); body != "" {
			bodies[h.key] = append(bodies[h.key], body)
		}
	}

	var out record.TextSections
	for key, parts := range bodies {
		out.Set(key, strings.Join(parts, "\n\n"))
	}
	if out.Empty() {
		return out, fmt.Errorf("%w: headings present but every section is empty", ErrNoSections)
	}
	return out, nil
}

func matchHeading(line string) (record.SectionKey, bool) {
	rest := strings.ToLower(headingPrefix.ReplaceAllString(line, ""))
	for _, key := range record.SectionKeys {
		for _, m := range sectionMarkers[key] {
			m = strings.ToLower(m)
			if !strings.HasPrefix(rest, m) {
				continue
			}
			// A long tail means prose that happens to start with the marker.
			if tail := strings.TrimSpace(rest[len(m):]); utf8.RuneCountInString(tail) <= maxHeadingTail {
				return key, true
			}
		}
	}
	return "", false
}
