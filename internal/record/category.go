package record

import (
	"fmt"
	"strings"
)

// Category is one of the five fixed feedback classifications.
// The numeric value is the render priority: lower wins.
type Category int

const (
	// CategoryBlueHighlight marks career-relevance emphasis.
	CategoryBlueHighlight Category = iota + 1
	// CategoryRedLine marks concrete-effort depth.
	CategoryRedLine
	// CategoryBlueLine marks cross-activity linkage.
	CategoryBlueLine
	// CategoryBlackLine marks lack of specificity.
	CategoryBlackLine
	// CategoryRedCheck marks sentences that cannot be assessed.
	CategoryRedCheck
)

// Categories lists every category in priority order.
var Categories = []Category{
	CategoryBlueHighlight,
	CategoryRedLine,
	CategoryBlueLine,
	CategoryBlackLine,
	CategoryRedCheck,
}

// CategoryInfo describes how a category is presented.
type CategoryInfo struct {
	Key         string
	Name        string
	Description string
	Icon        string
	// Color is the primary CSS-style color used for the mark.
	Color string
	// Mark is one of "highlight", "underline" or "check".
	Mark string
}

var categoryInfo = map[Category]CategoryInfo{
	CategoryBlueHighlight: {
		Key:         "blue_highlight",
		Name:        "Career relevance",
		Description: "Sentence clearly ties the activity to the student's intended career or major.",
		Icon:        "🔵",
		Color:       "#3b82f6",
		Mark:        "highlight",
	},
	CategoryRedLine: {
		Key:         "red_line",
		Name:        "Concrete effort",
		Description: "Sentence shows concrete effort, process or depth of inquiry.",
		Icon:        "🔴",
		Color:       "#ef4444",
		Mark:        "underline",
	},
	CategoryBlueLine: {
		Key:         "blue_line",
		Name:        "Cross-activity linkage",
		Description: "Sentence connects this activity to other activities or subjects.",
		Icon:        "🔷",
		Color:       "#2563eb",
		Mark:        "underline",
	},
	CategoryBlackLine: {
		Key:         "black_line",
		Name:        "Lacks specificity",
		Description: "Sentence is generic and would benefit from concrete detail.",
		Icon:        "⚫",
		Color:       "#111827",
		Mark:        "underline",
	},
	CategoryRedCheck: {
		Key:         "red_check",
		Name:        "Unassessable",
		Description: "Sentence cannot be evaluated from the record alone.",
		Icon:        "❗",
		Color:       "#dc2626",
		Mark:        "check",
	},
}

// Info returns the presentation metadata for c.
func (c Category) Info() CategoryInfo {
	return categoryInfo[c]
}

// Priority returns the render priority, 1 being the highest.
func (c Category) Priority() int {
	return int(c)
}

// Valid reports whether c is one of the five categories.
func (c Category) Valid() bool {
	_, ok := categoryInfo[c]
	return ok
}

func (c Category) String() string {
	if info, ok := categoryInfo[c]; ok {
		return info.Key
	}
	return fmt.Sprintf("category(%d)", int(c))
}

// ParseCategory maps a wire key such as "red_line" to its Category.
func ParseCategory(s string) (Category, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.ReplaceAll(key, "-", "_")
	for c, info := range categoryInfo {
		if info.Key == key {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown category %q", s)
}

// MarshalText implements encoding.TextMarshaler so categories serialize as map keys.
func (c Category) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid category %d", int(c))
	}
	return []byte(c.Info().Key), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Category) UnmarshalText(b []byte) error {
	parsed, err := ParseCategory(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// CategorySet is an active-filter set of categories.
type CategorySet map[Category]bool

// AllCategories returns a set with every category active.
func AllCategories() CategorySet {
	set := make(CategorySet, len(Categories))
	for _, c := range Categories {
		set[c] = true
	}
	return set
}

// NewCategorySet builds a set from the given categories.
func NewCategorySet(cats ...Category) CategorySet {
	set := make(CategorySet, len(cats))
	for _, c := range cats {
		set[c] = true
	}
	return set
}

// Has reports whether c is active.
func (s CategorySet) Has(c Category) bool {
	return s[c]
}

// Toggle returns a copy of s with c flipped.
func (s CategorySet) Toggle(c Category) CategorySet {
	out := make(CategorySet, len(s)+1)
	for k, v := range s {
		if v {
			out[k] = true
		}
	}
	if out[c] {
		delete(out, c)
	} else {
		out[c] = true
	}
	return out
}

// Sorted returns the active categories in priority order.
func (s CategorySet) Sorted() []Category {
	var out []Category
	for _, c := range Categories {
		if s[c] {
			out = append(out, c)
		}
	}
	return out
}
