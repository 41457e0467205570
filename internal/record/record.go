// Package record holds the data model shared by the analysis pipeline,
// the annotation engine and the clients.
package record

import (
	"time"
)

// TextSections are the three raw-text blocks used as the annotation substrate.
type TextSections struct {
	CreativeActivities  string `json:"creativeActivities"`
	AcademicDevelopment string `json:"academicDevelopment"`
	DetailedAbilities   string `json:"detailedAbilities"`
}

// SectionKey names one of the three text sections.
type SectionKey string

const (
	SectionCreativeActivities  SectionKey = "creativeActivities"
	SectionAcademicDevelopment SectionKey = "academicDevelopment"
	SectionDetailedAbilities   SectionKey = "detailedAbilities"
)

// SectionKeys lists the sections in display order.
var SectionKeys = []SectionKey{
	SectionCreativeActivities,
	SectionAcademicDevelopment,
	SectionDetailedAbilities,
}

// Title returns a display title for the section.
func (k SectionKey) Title() string {
	switch k {
	case SectionCreativeActivities:
		return "Creative Activities"
	case SectionAcademicDevelopment:
		return "Academic Development"
	case SectionDetailedAbilities:
		return "Detailed Abilities"
	}
	return string(k)
}

// Get returns the text of the named section.
func (t TextSections) Get(k SectionKey) string {
	switch k {
	case SectionCreativeActivities:
		return t.CreativeActivities
	case SectionAcademicDevelopment:
		return t.AcademicDevelopment
	case SectionDetailedAbilities:
		return t.DetailedAbilities
	}
	return ""
}

// Set replaces the text of the named section.
func (t *TextSections) Set(k SectionKey, text string) {
	switch k {
	case SectionCreativeActivities:
		t.CreativeActivities = text
	case SectionAcademicDevelopment:
		t.AcademicDevelopment = text
	case SectionDetailedAbilities:
		t.DetailedAbilities = text
	}
}

// Empty reports whether every section is blank.
func (t TextSections) Empty() bool {
	return t.CreativeActivities == "" && t.AcademicDevelopment == "" && t.DetailedAbilities == ""
}

// Activity is one creative-activity entry (autonomous, club, volunteer, career).
type Activity struct {
	Year        int     `json:"year"`
	Area        string  `json:"area"`
	Hours       float64 `json:"hours"`
	Description string  `json:"description"`
}

// AcademicRow is one subject row from the academic development table.
type AcademicRow struct {
	Year        int    `json:"year"`
	Semester    int    `json:"semester"`
	Subject     string `json:"subject"`
	Units       int    `json:"units"`
	Rank        int    `json:"rank"`
	Achievement string `json:"achievement"`
}

// SubjectNote is the free-text teacher note for one subject.
type SubjectNote struct {
	Subject string `json:"subject"`
	Note    string `json:"note"`
}

// ExtractedData is the structured data derived from the document.
type ExtractedData struct {
	Activities      []Activity    `json:"activities"`
	AcademicRecords []AcademicRow `json:"academicRecords"`
	SubjectNotes    []SubjectNote `json:"subjectNotes"`
}

// Normalize replaces nil slices with empty ones so the artifact always serializes fully.
func (d *ExtractedData) Normalize() {
	if d.Activities == nil {
		d.Activities = []Activity{}
	}
	if d.AcademicRecords == nil {
		d.AcademicRecords = []AcademicRow{}
	}
	if d.SubjectNotes == nil {
		d.SubjectNotes = []SubjectNote{}
	}
}

// Feedback is a (sentence, message) pair attributed to one category.
type Feedback struct {
	Sentence string `json:"sentence"`
	Feedback string `json:"feedback"`
}

// ValidationAnalysis maps each category to its feedback list. The same
// sentence may appear under several categories.
type ValidationAnalysis map[Category][]Feedback

// Normalize ensures every category is present with a non-nil list.
func (v ValidationAnalysis) Normalize() ValidationAnalysis {
	if v == nil {
		v = ValidationAnalysis{}
	}
	for _, c := range Categories {
		if v[c] == nil {
			v[c] = []Feedback{}
		}
	}
	return v
}

// Count returns the total number of feedback entries.
func (v ValidationAnalysis) Count() int {
	n := 0
	for _, list := range v {
		n += len(list)
	}
	return n
}

// AnalysisResult is what getResult returns once a session has completed.
type AnalysisResult struct {
	ExtractedData      *ExtractedData     `json:"extractedData"`
	ValidationAnalysis ValidationAnalysis `json:"validationAnalysis"`
	TextSections       *TextSections      `json:"textSections"`
	Status             Status             `json:"status"`
}

// StoredResult is the durable, write-once record kept for dashboards.
type StoredResult struct {
	ExtractedData      ExtractedData      `json:"extractedData"`
	ValidationAnalysis ValidationAnalysis `json:"validationAnalysis"`
	TextSections       TextSections       `json:"textSections"`
	CreatedAt          time.Time          `json:"createdAt"`
	CompletedAt        time.Time          `json:"completedAt"`
}

// Artifacts are the per-stage checkpoints persisted for a session.
// A nil field means the stage producing it has not completed.
type Artifacts struct {
	TextSections       *TextSections
	ExtractedData      *ExtractedData
	ValidationAnalysis ValidationAnalysis
}
