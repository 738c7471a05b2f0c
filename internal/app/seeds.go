package app

import (
	"embed"
	"strings"
)

//go:embed seeds/*.html
var seedFS embed.FS

type seed struct {
	Title   string
	Content string
}

var seedTitles = map[string]string{
	"home":             "Accueil",
	"tarifs":           "Tarifs",
	"contact":          "Contact",
	"mentions-legales": "Mentions légales",
}

// seedFor returns the starter content shipped for well-known site pages.
func seedFor(slug string) (seed, bool) {
	title, ok := seedTitles[slug]
	if !ok {
		return seed{}, false
	}
	raw, err := seedFS.ReadFile("seeds/" + slug + ".html")
	if err != nil {
		return seed{}, false
	}
	return seed{Title: title, Content: strings.TrimSpace(string(raw))}, true
}
