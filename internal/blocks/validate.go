package blocks

import (
	"encoding/json"
	"strings"
)

// Validate reports advisory problems with a block payload. The store accepts any
// JSON object regardless; callers surface these as warnings.
func Validate(t Type, raw json.RawMessage) []string {
	var object map[string]json.RawMessage
	if err := json.Unmarshal(raw, &object); err != nil {
		return []string{"content must be a JSON object"}
	}

	content, err := Decode(t, raw)
	if err != nil {
		return []string{err.Error()}
	}

	var problems []string
	switch c := content.(type) {
	case RichText:
		if blank(c.HTML) {
			problems = append(problems, "html is empty")
		}
	case Hero:
		if blank(c.Heading) {
			problems = append(problems, "heading is empty")
		}
		if blank(c.CTALabel) != blank(c.CTAHref) {
			problems = append(problems, "ctaLabel and ctaHref must be set together")
		}
	case Image:
		if blank(c.URL) {
			problems = append(problems, "url is empty")
		}
		if blank(c.Alt) {
			problems = append(problems, "alt text is empty")
		}
	case List:
		if len(c.Items) == 0 {
			problems = append(problems, "items is empty")
		}
		for _, item := range c.Items {
			if blank(item) {
				problems = append(problems, "items contains an empty entry")
				break
			}
		}
	case Button:
		if blank(c.Label) {
			problems = append(problems, "label is empty")
		}
		if blank(c.Href) {
			problems = append(problems, "href is empty")
		}
	case Opaque:
		// forward-compatible: nothing to check
	}
	return problems
}

func blank(value string) bool {
	return strings.TrimSpace(value) == ""
}
