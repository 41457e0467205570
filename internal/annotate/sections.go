package annotate

import (
	"fmt"
	"strings"

	"github.com/dgallion1/recordlens/internal/record"
)

// SectionRender is the render model of one named text section.
type SectionRender struct {
	Key   record.SectionKey `json:"key"`
	Title string            `json:"title"`
	RenderModel
}

// RenderSections renders every text section in display order.
func RenderSections(sections record.TextSections, analysis record.ValidationAnalysis, filter record.CategorySet) []SectionRender {
	out := make([]SectionRender, 0, len(record.SectionKeys))
	for _, key := range record.SectionKeys {
		out = append(out, SectionRender{
			Key:         key,
			Title:       key.Title(),
			RenderModel: Render(sections.Get(key), analysis, filter),
		})
	}
	return out
}

// ParseFilter parses a comma-separated category list. "all" selects every
// category and an empty string or "none" selects none.
func ParseFilter(raw string) (record.CategorySet, error) {
	raw = strings.TrimSpace(raw)
	switch strings.ToLower(raw) {
	case "all":
		return record.AllCategories(), nil
	case "", "none":
		return record.CategorySet{}, nil
	}

	set := record.CategorySet{}
	for _, part := range strings.Split(raw, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		c, err := record.ParseCategory(part)
		if err != nil {
			return nil, fmt.Errorf("parse filter: %w", err)
		}
		set[c] = true
	}
	return set, nil
}
