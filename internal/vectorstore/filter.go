package vectorstore

// scalarFields projects the scalar metadata fields a filter may address.
var scalarFields = map[string]func(Metadata) string{
	"article_id": func(m Metadata) string { return m.ArticleID },
	"url":        func(m Metadata) string { return m.URL },
	"domain":     func(m Metadata) string { return m.Domain },
	"kind":       func(m Metadata) string { return m.Kind },
	"title":      func(m Metadata) string { return m.Title },
	"language":   func(m Metadata) string { return m.Language },
	"model":      func(m Metadata) string { return m.Model },
}

// listFields projects the list-valued metadata fields.
var listFields = map[string]func(Metadata) []string{
	"tags":       func(m Metadata) []string { return m.Tags },
	"categories": func(m Metadata) []string { return m.Categories },
}

// Matches evaluates the filter against a document's metadata. Unknown keys
// fail closed.
func (f Filter) Matches(m Metadata) bool {
	for key, expected := range f {
		if !matchField(m, key, expected) {
			return false
		}
	}
	return true
}

func matchField(m Metadata, key string, expected interface{}) bool {
	if proj, ok := listFields[key]; ok {
		return matchList(proj(m), expected)
	}
	if proj, ok := scalarFields[key]; ok {
		return matchScalar(proj(m), expected)
	}
	if v, ok := m.Custom[key]; ok {
		return matchScalar(v, expected)
	}
	return false
}

func matchScalar(actual string, expected interface{}) bool {
	switch e := expected.(type) {
	case string:
		return actual == e
	case []string:
		for _, v := range e {
			if actual == v {
				return true
			}
		}
		return false
	case []interface{}:
		for _, v := range e {
			if s, ok := v.(string); ok && actual == s {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// matchList implements "non-empty intersection" between a list-valued
// field and the expected value(s).
func matchList(actual []string, expected interface{}) bool {
	var want []string
	switch e := expected.(type) {
	case string:
		want = []string{e}
	case []string:
		want = e
	case []interface{}:
		for _, v := range e {
			if s, ok := v.(string); ok {
				want = append(want, s)
			}
		}
	default:
		return false
	}
	for _, w := range want {
		for _, a := range actual {
			if a == w {
				return true
			}
		}
	}
	return false
}
