package content

import (
	"net/url"
	"sort"
	"strings"
)

// Shape tags how a provider's raw payload is normalized.
type Shape string

const (
	ShapeText       Shape = "text"        // JSON envelope with a text field
	ShapePlain      Shape = "plain"       // body is the text itself
	ShapeRanked     Shape = "ranked"      // JSON envelope with a list of ranked items
	ShapeImageURL   Shape = "image_url"   // JSON envelope or bare body holding an image URL
	ShapeImageBytes Shape = "image_bytes" // body is the image
	ShapeAudioURL   Shape = "audio_url"   // JSON envelope or bare body holding a media URL; downloaded in a second stage
)

func (s Shape) Valid() bool {
	switch s {
	case ShapeText, ShapePlain, ShapeRanked, ShapeImageURL, ShapeImageBytes, ShapeAudioURL:
		return true
	}
	return false
}

// ProviderSpec is one remote source for a category.
type ProviderSpec struct {
	Category string
	URL      string
	Shape    Shape
	// Params are fixed query parameters sent with every request.
	Params url.Values
}

// ProviderTable maps a category to its fallback set. It is built once at
// startup and never mutated afterwards.
type ProviderTable struct {
	m map[string][]ProviderSpec
}

func NewProviderTable(specs []ProviderSpec) ProviderTable {
	m := make(map[string][]ProviderSpec)
	for _, s := range specs {
		cat := strings.TrimSpace(s.Category)
		if cat == "" || strings.TrimSpace(s.URL) == "" {
			continue
		}
		if !s.Shape.Valid() {
			s.Shape = ShapeText
		}
		s.Category = cat
		m[cat] = append(m[cat], s)
	}
	return ProviderTable{m: m}
}

// Specs returns a copy of the fallback set for category in configured order.
func (t ProviderTable) Specs(category string) []ProviderSpec {
	src := t.m[category]
	if len(src) == 0 {
		return nil
	}
	out := make([]ProviderSpec, len(src))
	copy(out, src)
	return out
}

func (t ProviderTable) Has(category string) bool { return len(t.m[category]) > 0 }

// Categories returns the configured categories, sorted.
func (t ProviderTable) Categories() []string {
	out := make([]string, 0, len(t.m))
	for k := range t.m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
