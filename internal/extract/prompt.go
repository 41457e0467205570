package extract

import (
	"fmt"
	"strings"

	"github.com/dgallion1/recordlens/internal/record"
)

const ExtractionSystemPrompt = `You read Korean high-school student records (학교생활기록부) and extract structured data. Respond with ONLY a JSON object, no other text.`

const ExtractionPrompt = `Extract structured data from the student record sections below. Return a JSON object with these fields:

- "activities": list of creative activities, each with
  - "year": school year 1-3 (integer, 0 if unknown)
  - "area": one of "autonomous", "club", "volunteer", "career"
  - "hours": hours spent (number, 0 if unknown)
  - "description": short description copied from the record (string, max 300 chars)
- "academicRecords": list of subject rows, each with
  - "year", "semester" (integers, 0 if unknown)
  - "subject" (string), "units" (integer), "rank" (grade rank 1-9, 0 if absent)
  - "achievement" (letter grade such as "A", or "")
- "subjectNotes": list of per-subject teacher notes, each with "subject" and "note"

Rules:
- Only extract what the record states. Do not invent values.
- Return empty lists for anything the record does not contain.`

const AnalysisSystemPrompt = `You are an admissions consultant reviewing a Korean student record. You classify sentences of the record into feedback categories. Respond with ONLY a JSON object, no other text.`

// BuildExtractionPrompt creates the extraction prompt over all three sections.
func BuildExtractionPrompt(sections record.TextSections) string {
	var sb strings.Builder
	sb.WriteString(ExtractionPrompt)
	for _, key := range record.SectionKeys {
		sb.WriteString("\n\n---\n")
		sb.WriteString(fmt.Sprintf("Section: %s\n", key.Title()))
		sb.WriteString("---\n")
		text := sections.Get(key)
		if strings.TrimSpace(text) == "" {
			text = "(empty)"
		}
		sb.WriteString(text)
	}
	return sb.String()
}

// BuildAnalysisPrompt creates the feedback prompt for one chunk of a section.
func BuildAnalysisPrompt(section record.SectionKey, chunkText string) string {
	var sb strings.Builder
	sb.WriteString("Classify sentences of the record excerpt below. Return a JSON object whose keys are category keys and whose values are lists of {\"sentence\", \"feedback\"} objects.\n\nCategories:\n")
	for _, c := range record.Categories {
		info := c.Info()
		sb.WriteString(fmt.Sprintf("- %q: %s\n", info.Key, info.Description))
	}
	sb.WriteString(`
Rules:
- "sentence" MUST be copied verbatim from the excerpt, exactly one sentence, with no edits.
- "feedback" is one or two sentences of advice for the student (max 300 chars).
- A sentence may appear under several categories.
- Omit categories with no matching sentences or use an empty list.`)
	sb.WriteString("\n\n---\n")
	sb.WriteString(fmt.Sprintf("Section: %s\n", section.Title()))
	sb.WriteString("---\n")
	sb.WriteString(chunkText)
	return sb.String()
}
