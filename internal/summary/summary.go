// Package summary reduces a completed analysis into aggregate counts and
// 0-100 scores for overview display.
package summary

import (
	"math"
	"strings"

	"github.com/dgallion1/recordlens/internal/record"
)

// Weights applied to feedback counts when computing the composite score.
// Positive categories raise the score, negative ones lower it.
var (
	positiveWeights = map[record.Category]float64{
		record.CategoryBlueHighlight: 3,
		record.CategoryRedLine:       2,
		record.CategoryBlueLine:      2,
	}
	negativeWeights = map[record.Category]float64{
		record.CategoryBlackLine: 2,
		record.CategoryRedCheck:  1,
	}
)

// Scores are percentages in [0, 100].
type Scores struct {
	Career      int `json:"career"`
	Effort      int `json:"effort"`
	Linkage     int `json:"linkage"`
	Specificity int `json:"specificity"`
	Composite   int `json:"composite"`
}

// Summary is the overview of one analysis result.
type Summary struct {
	CategoryCounts    map[record.Category]int   `json:"categoryCounts"`
	TotalFeedback     int                       `json:"totalFeedback"`
	DistinctSentences int                       `json:"distinctSentences"`
	SectionChars      map[record.SectionKey]int `json:"sectionChars"`
	ActivityCounts    map[string]int            `json:"activityCounts"`
	ActivityHours     float64                   `json:"activityHours"`
	SubjectCount      int                       `json:"subjectCount"`
	MeanRank          float64                   `json:"meanRank"`
	SubjectNoteCount  int                       `json:"subjectNoteCount"`
	Scores            Scores                    `json:"scores"`
}

// Reduce computes the summary. Nil fields count as zero.
func Reduce(res record.AnalysisResult) Summary {
	s := Summary{
		CategoryCounts: make(map[record.Category]int, len(record.Categories)),
		SectionChars:   make(map[record.SectionKey]int, len(record.SectionKeys)),
		ActivityCounts: map[string]int{},
	}

	sentences := map[string]bool{}
	for _, c := range record.Categories {
		list := res.ValidationAnalysis[c]
		s.CategoryCounts[c] = len(list)
		s.TotalFeedback += len(list)
		for _, fb := range list {
			if t := strings.TrimSpace(fb.Sentence); t != "" {
				sentences[t] = true
			}
		}
	}
	s.DistinctSentences = len(sentences)

	for _, k := range record.SectionKeys {
		n := 0
		if res.TextSections != nil {
			n = len([]rune(res.TextSections.Get(k)))
		}
		s.SectionChars[k] = n
	}

	if d := res.ExtractedData; d != nil {
		for _, a := range d.Activities {
			area := strings.TrimSpace(a.Area)
			if area == "" {
				area = "other"
			}
			s.ActivityCounts[area]++
			if a.Hours > 0 {
				s.ActivityHours += a.Hours
			}
		}
		s.SubjectCount, s.MeanRank = meanRank(d.AcademicRecords)
		s.SubjectNoteCount = len(d.SubjectNotes)
	}

	s.Scores = score(s.CategoryCounts, s.TotalFeedback)
	return s
}

// meanRank is the unit-weighted mean of ranked rows. Rows without a rank
// or units are counted as subjects but excluded from the mean.
func meanRank(rows []record.AcademicRow) (int, float64) {
	subjects := map[string]bool{}
	var weighted, units float64
	for _, r := range rows {
		if name := strings.TrimSpace(r.Subject); name != "" {
			subjects[name] = true
		}
		if r.Rank <= 0 || r.Units <= 0 {
			continue
		}
		weighted += float64(r.Rank * r.Units)
		units += float64(r.Units)
	}
	if units == 0 {
		return len(subjects), 0
	}
	return len(subjects), math.Round(weighted/units*100) / 100
}

func score(counts map[record.Category]int, total int) Scores {
	if total == 0 {
		return Scores{}
	}
	var pos, neg float64
	for c, w := range positiveWeights {
		pos += w * float64(counts[c])
	}
	for c, w := range negativeWeights {
		neg += w * float64(counts[c])
	}
	return Scores{
		Career:      percent(counts[record.CategoryBlueHighlight], total),
		Effort:      percent(counts[record.CategoryRedLine], total),
		Linkage:     percent(counts[record.CategoryBlueLine], total),
		Specificity: 100 - percent(counts[record.CategoryBlackLine], total),
		Composite:   int(math.Round(100 * pos / (pos + neg))),
	}
}

func percent(n, total int) int {
	return int(math.Round(100 * float64(n) / float64(total)))
}
