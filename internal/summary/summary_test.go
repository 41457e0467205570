package summary

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/dgallion1/recordlens/internal/record"
)

func TestReduce_EmptyResult(t *testing.T) {
	s := Reduce(record.AnalysisResult{})
	if s.TotalFeedback != 0 || s.DistinctSentences != 0 || s.SubjectCount != 0 {
		t.Errorf("expected zero counts, got %+v", s)
	}
	if s.Scores != (Scores{}) {
		t.Errorf("expected zero scores, got %+v", s.Scores)
	}
	if len(s.CategoryCounts) != len(record.Categories) {
		t.Errorf("expected every category present, got %d", len(s.CategoryCounts))
	}
	if len(s.SectionChars) != len(record.SectionKeys) {
		t.Errorf("expected every section present, got %d", len(s.SectionChars))
	}
}

func TestReduce_Counts(t *testing.T) {
	res := record.AnalysisResult{
		TextSections: &record.TextSections{
			CreativeActivities: "봉사 활동.",
			DetailedAbilities:  "abc",
		},
		ValidationAnalysis: record.ValidationAnalysis{
			record.CategoryBlueHighlight: {{Sentence: "S1", Feedback: "a"}, {Sentence: "S2", Feedback: "b"}},
			record.CategoryRedCheck:      {{Sentence: " S1 ", Feedback: "c"}},
		},
		ExtractedData: &record.ExtractedData{
			Activities: []record.Activity{
				{Area: "club", Hours: 10},
				{Area: "club", Hours: 5.5},
				{Area: "volunteer", Hours: -1},
				{Area: ""},
			},
			AcademicRecords: []record.AcademicRow{
				{Subject: "Math", Units: 4, Rank: 1},
				{Subject: "Math", Units: 4, Rank: 2},
				{Subject: "Physics", Units: 2, Rank: 4},
				{Subject: "Art", Units: 1},
			},
			SubjectNotes: []record.SubjectNote{{Subject: "Math"}},
		},
	}
	s := Reduce(res)

	if s.TotalFeedback != 3 {
		t.Errorf("expected 3 feedback, got %d", s.TotalFeedback)
	}
	if s.DistinctSentences != 2 {
		t.Errorf("expected 2 distinct sentences, got %d", s.DistinctSentences)
	}
	if s.CategoryCounts[record.CategoryBlueHighlight] != 2 || s.CategoryCounts[record.CategoryRedLine] != 0 {
		t.Errorf("unexpected category counts %v", s.CategoryCounts)
	}
	if s.SectionChars[record.SectionCreativeActivities] != 6 {
		t.Errorf("expected rune count 6, got %d", s.SectionChars[record.SectionCreativeActivities])
	}
	if s.ActivityCounts["club"] != 2 || s.ActivityCounts["other"] != 1 {
		t.Errorf("unexpected activity counts %v", s.ActivityCounts)
	}
	if s.ActivityHours != 15.5 {
		t.Errorf("expected 15.5 hours, got %v", s.ActivityHours)
	}
	if s.SubjectCount != 3 {
		t.Errorf("expected 3 subjects, got %d", s.SubjectCount)
	}
	// (1*4 + 2*4 + 4*2) / 10
	if s.MeanRank != 2 {
		t.Errorf("expected mean rank 2, got %v", s.MeanRank)
	}
	if s.SubjectNoteCount != 1 {
		t.Errorf("expected 1 subject note, got %d", s.SubjectNoteCount)
	}
}

func TestReduce_Scores(t *testing.T) {
	tests := []struct {
		name     string
		analysis record.ValidationAnalysis
		want     Scores
	}{
		{
			name: "all positive",
			analysis: record.ValidationAnalysis{
				record.CategoryBlueHighlight: {{Sentence: "a"}},
				record.CategoryRedLine:       {{Sentence: "b"}},
			},
			want: Scores{Career: 50, Effort: 50, Linkage: 0, Specificity: 100, Composite: 100},
		},
		{
			name: "all negative",
			analysis: record.ValidationAnalysis{
				record.CategoryBlackLine: {{Sentence: "a"}},
				record.CategoryRedCheck:  {{Sentence: "b"}},
			},
			want: Scores{Specificity: 50, Composite: 0},
		},
		{
			name: "mixed",
			analysis: record.ValidationAnalysis{
				record.CategoryBlueLine:  {{Sentence: "a"}},
				record.CategoryBlackLine: {{Sentence: "b"}},
			},
			// 2 / (2 + 2)
			want: Scores{Linkage: 50, Specificity: 50, Composite: 50},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Reduce(record.AnalysisResult{ValidationAnalysis: tc.analysis}).Scores
			if got != tc.want {
				t.Errorf("expected %+v, got %+v", tc.want, got)
			}
		})
	}
}

func TestSummary_JSONUsesCategoryKeys(t *testing.T) {
	s := Reduce(record.AnalysisResult{
		ValidationAnalysis: record.ValidationAnalysis{record.CategoryRedLine: {{Sentence: "x"}}},
	})
	b, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(b), `"red_line":1`) {
		t.Errorf("expected category key in json, got %s", b)
	}
}
