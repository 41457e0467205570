package extract

import (
	"regexp"
	"strings"

	"github.com/dgallion1/recordlens/internal/record"
)

const (
	maxFeedbackLen    = 300
	maxDescriptionLen = 300
	minSentenceLen    = 3
)

var validAreas = map[string]bool{
	"autonomous": true,
	"club":       true,
	"volunteer":  true,
	"career":     true,
}

var injectionPattern = regexp.MustCompile(
	`(?i)(ignore\s+(previous|all|above)|system\s*prompt|you\s+are\s+now|` +
		`act\s+as\s+|pretend\s+|forget\s+(everything|all)|override|` +
		`new\s+instructions)`,
)

// ValidateFeedback keeps model feedback that can be rendered: known
// categories only, sentences copied verbatim from source, no injected
// instructions, no duplicates. Long feedback is truncated.
func ValidateFeedback(raw map[string][]record.Feedback, source string) record.ValidationAnalysis {
	out := record.ValidationAnalysis{}
	for key, list := range raw {
		c, err := record.ParseCategory(key)
		if err != nil {
			continue
		}
		for _, fb := range list {
			if v, ok := validFeedback(fb, source); ok {
				out[c] = append(out[c], v)
			}
		}
	}
	return dedupAnalysis(out).Normalize()
}

func validFeedback(fb record.Feedback, source string) (record.Feedback, bool) {
	sentence := strings.TrimSpace(fb.Sentence)
	message := strings.TrimSpace(fb.Feedback)
	if len(sentence) < minSentenceLen || message == "" {
		return record.Feedback{}, false
	}
	if !strings.Contains(source, sentence) {
		return record.Feedback{}, false
	}
	if injectionPattern.MatchString(message) {
		return record.Feedback{}, false
	}
	return record.Feedback{Sentence: sentence, Feedback: truncateRunes(message, maxFeedbackLen)}, true
}

// MergeAnalysis appends b's feedback to a, category by category, and
// removes duplicates.
func MergeAnalysis(a, b record.ValidationAnalysis) record.ValidationAnalysis {
	out := record.ValidationAnalysis{}
	for _, c := range record.Categories {
		out[c] = append(append([]record.Feedback{}, a[c]...), b[c]...)
	}
	return dedupAnalysis(out).Normalize()
}

func dedupAnalysis(v record.ValidationAnalysis) record.ValidationAnalysis {
	for c, list := range v {
		seen := make(map[record.Feedback]bool, len(list))
		kept := list[:0]
		for _, fb := range list {
			if seen[fb] {
				continue
			}
			seen[fb] = true
			kept = append(kept, fb)
		}
		v[c] = kept
	}
	return v
}

// ValidateExtracted cleans model-extracted data in place. Rows without
// their identifying field are dropped and out-of-range numbers reset to 0.
func ValidateExtracted(d *record.ExtractedData) {
	activities := d.Activities[:0]
	for _, a := range d.Activities {
		a.Description = truncateRunes(strings.TrimSpace(a.Description), maxDescriptionLen)
		a.Area = strings.ToLower(strings.TrimSpace(a.Area))
		if a.Description == "" || injectionPattern.MatchString(a.Description) {
			continue
		}
		if !validAreas[a.Area] {
			a.Area = "other"
		}
		if a.Year < 0 || a.Year > 6 {
			a.Year = 0
		}
		if a.Hours < 0 {
			a.Hours = 0
		}
		activities = append(activities, a)
	}
	d.Activities = activities

	rows := d.AcademicRecords[:0]
	for _, r := range d.AcademicRecords {
		r.Subject = strings.TrimSpace(r.Subject)
		if r.Subject == "" {
			continue
		}
		if r.Rank < 0 || r.Rank > 9 {
			r.Rank = 0
		}
		if r.Units < 0 {
			r.Units = 0
		}
		if r.Semester < 0 || r.Semester > 2 {
			r.Semester = 0
		}
		if r.Year < 0 || r.Year > 6 {
			r.Year = 0
		}
		r.Achievement = strings.ToUpper(strings.TrimSpace(r.Achievement))
		rows = append(rows, r)
	}
	d.AcademicRecords = rows

	notes := d.SubjectNotes[:0]
	for _, n := range d.SubjectNotes {
		n.Subject = strings.TrimSpace(n.Subject)
		n.Note = strings.TrimSpace(n.Note)
		if n.Subject == "" || n.Note == "" {
			continue
		}
		notes = append(notes, n)
	}
	d.SubjectNotes = notes
	d.Normalize()
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
