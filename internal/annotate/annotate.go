// Package annotate turns raw record text plus categorized feedback into a
// render model of plain and highlighted segments.
//
// Render is a pure function: the same text, analysis and filter always
// produce the same model, and the concatenation of all segment texts is
// byte-identical to the input text.
//
// Overlapping spans from different sentences are resolved earliest-start
// first, then longest span, then lowest primary priority, then sentence text.
// A span that overlaps one already accepted is absorbed: its feedback joins
// the accepted span's tooltip and the primary style is recomputed, while the
// accepted span keeps its own range.
package annotate

import (
	"sort"
	"strings"

	"github.com/dgallion1/recordlens/internal/record"
)

// EmptyPlaceholder is shown for a section without text.
const EmptyPlaceholder = "No content was found for this section."

// TooltipEntry is one category's contribution to a highlight tooltip.
type TooltipEntry struct {
	Category record.Category `json:"category"`
	Icon     string          `json:"icon"`
	Name     string          `json:"name"`
	Feedback string          `json:"feedback"`
}

// Style is the visual treatment of a highlight, taken from its primary category.
type Style struct {
	Category record.Category `json:"category"`
	Color    string          `json:"color"`
	Mark     string          `json:"mark"`
}

// Span is a computed range over the raw text carrying feedback.
type Span struct {
	Start      int             `json:"start"`
	End        int             `json:"end"`
	Sentence   string          `json:"sentence"`
	Primary    record.Category `json:"primary"`
	Style      Style           `json:"style"`
	Categories []TooltipEntry  `json:"categories"`
}

// Segment is a contiguous piece of the original text. Highlight is nil for plain text.
type Segment struct {
	Text      string `json:"text"`
	Start     int    `json:"start"`
	End       int    `json:"end"`
	Highlight *Span  `json:"highlight,omitempty"`
}

// RenderModel is the output of Render.
type RenderModel struct {
	Empty       bool      `json:"empty"`
	Placeholder string    `json:"placeholder,omitempty"`
	Segments    []Segment `json:"segments"`
	Spans       []Span    `json:"spans"`
}

// Text reassembles the visible text from the segments.
func (m RenderModel) Text() string {
	var sb strings.Builder
	for _, seg := range m.Segments {
		sb.WriteString(seg.Text)
	}
	return sb.String()
}

type attached struct {
	category record.Category
	feedback string
}

// Render computes the render model of text under the active filter.
func Render(text string, analysis record.ValidationAnalysis, filter record.CategorySet) RenderModel {
	if strings.TrimSpace(text) == "" {
		return RenderModel{
			Empty:       true,
			Placeholder: EmptyPlaceholder,
			Segments:    []Segment{},
			Spans:       []Span{},
		}
	}

	index, order := buildIndex(analysis, filter)

	var candidates []Span
	for _, sentence := range order {
		entries := index[sentence]
		for _, start := range occurrences(text, sentence) {
			candidates = append(candidates, newSpan(start, sentence, entries))
		}
	}

	spans := resolve(candidates)
	return RenderModel{
		Segments: segments(text, spans),
		Spans:    spans,
	}
}

// buildIndex groups active feedback by trimmed sentence. Entries are kept in
// category priority order, then in list order, without duplicates.
func buildIndex(analysis record.ValidationAnalysis, filter record.CategorySet) (map[string][]attached, []string) {
	index := make(map[string][]attached)
	var order []string
	for _, cat := range record.Categories {
		if !filter.Has(cat) {
			continue
		}
		for _, fb := range analysis[cat] {
			sentence := strings.TrimSpace(fb.Sentence)
			if sentence == "" {
				continue
			}
			entry := attached{category: cat, feedback: strings.TrimSpace(fb.Feedback)}
			if _, seen := index[sentence]; !seen {
				order = append(order, sentence)
			}
			if !containsEntry(index[sentence], entry) {
				index[sentence] = append(index[sentence], entry)
			}
		}
	}
	return index, order
}

func containsEntry(list []attached, e attached) bool {
	for _, x := range list {
		if x == e {
			return true
		}
	}
	return false
}

// occurrences returns the start offsets of every non-overlapping occurrence
// of needle. A skipped self-overlapping match would start inside the previous
// one and be absorbed by resolve, so no highlight is lost.
func occurrences(text, needle string) []int {
	var out []int
	offset := 0
	for {
		i := strings.Index(text[offset:], needle)
		if i < 0 {
			return out
		}
		out = append(out, offset+i)
		offset += i + len(needle)
	}
}

func newSpan(start int, sentence string, entries []attached) Span {
	sp := Span{
		Start:    start,
		End:      start + len(sentence),
		Sentence: sentence,
	}
	for _, e := range entries {
		sp.Categories = append(sp.Categories, tooltipEntry(e))
	}
	sp.setPrimary()
	return sp
}

func tooltipEntry(e attached) TooltipEntry {
	info := e.category.Info()
	return TooltipEntry{
		Category: e.category,
		Icon:     info.Icon,
		Name:     info.Name,
		Feedback: e.feedback,
	}
}

func (sp *Span) setPrimary() {
	primary := sp.Categories[0].Category
	for _, entry := range sp.Categories[1:] {
		if entry.Category.Priority() < primary.Priority() {
			primary = entry.Category
		}
	}
	info := primary.Info()
	sp.Primary = primary
	sp.Style = Style{Category: primary, Color: info.Color, Mark: info.Mark}
}

func (sp *Span) absorb(other Span) {
	for _, entry := range other.Categories {
		dup := false
		for _, have := range sp.Categories {
			if have == entry {
				dup = true
				break
			}
		}
		if !dup {
			sp.Categories = append(sp.Categories, entry)
		}
	}
	sort.SliceStable(sp.Categories, func(i, j int) bool {
		return sp.Categories[i].Category.Priority() < sp.Categories[j].Category.Priority()
	})
	sp.setPrimary()
}

// resolve orders candidates and absorbs each one that starts inside the
// previously accepted span. The accepted range is kept even when the absorbed
// candidate ends after it.
func resolve(candidates []Span) []Span {
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if la, lb := a.End-a.Start, b.End-b.Start; la != lb {
			return la > lb
		}
		if a.Primary != b.Primary {
			return a.Primary.Priority() < b.Primary.Priority()
		}
		return a.Sentence < b.Sentence
	})

	spans := make([]Span, 0, len(candidates))
	for _, c := range candidates {
		if n := len(spans); n > 0 && c.Start < spans[n-1].End {
			spans[n-1].absorb(c)
			continue
		}
		spans = append(spans, c)
	}
	return spans
}

func segments(text string, spans []Span) []Segment {
	out := make([]Segment, 0, 2*len(spans)+1)
	pos := 0
	for i := range spans {
		sp := &spans[i]
		if sp.Start > pos {
			out = append(out, Segment{Text: text[pos:sp.Start], Start: pos, End: sp.Start})
		}
		out = append(out, Segment{Text: text[sp.Start:sp.End], Start: sp.Start, End: sp.End, Highlight: sp})
		pos = sp.End
	}
	if pos < len(text) {
		out = append(out, Segment{Text: text[pos:], Start: pos, End: len(text)})
	}
	return out
}
