// Package render turns a page and its visible blocks into HTML for the public
// site. It reads nothing and writes nothing.
package render

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"log"
	"sort"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"lexicms/api/internal/blocks"
	"lexicms/api/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

var (
	blockTemplates = template.Must(template.ParseFS(templateFS, "templates/blocks.html"))
	pageTemplate   = template.Must(template.ParseFS(templateFS, "templates/page.html"))
	ugc            = bluemonday.UGCPolicy()
)

// Page is what the public site shows for one slug.
type Page struct {
	Slug      string
	Title     string
	Body      string
	Published bool
	Blocks    []store.PageBlock
}

// Visible returns the blocks a visitor may see, in display order: none when
// the page is unpublished, otherwise the published blocks only.
func Visible(pagePublished bool, items []store.PageBlock) []store.PageBlock {
	out := make([]store.PageBlock, 0, len(items))
	if !pagePublished {
		return out
	}
	for _, item := range items {
		if item.Published {
			out = append(out, item)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OrderIndex < out[j].OrderIndex
	})
	return out
}

// Blocks renders already-filtered blocks in the order given.
func Blocks(items []store.PageBlock) template.HTML {
	var buf bytes.Buffer
	for _, item := range items {
		buf.WriteString(string(Block(item)))
		buf.WriteByte('\n')
	}
	return template.HTML(buf.String())
}

// Block renders one block. Content that does not decode for its type is shown
// as a raw dump rather than failing the page.
func Block(item store.PageBlock) template.HTML {
	content, err := blocks.Decode(blocks.Type(item.Type), item.Content)
	if err != nil {
		log.Printf("render: block %s: %v", item.ID, err)
		content = blocks.Opaque{Type: blocks.Type(item.Type), Raw: item.Content}
	}

	name, data := dispatch(content)
	var buf bytes.Buffer
	if err := blockTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		log.Printf("render: block %s template %s: %v", item.ID, name, err)
		return ""
	}
	return template.HTML(buf.String())
}

type rawView struct {
	Type string
	Raw  string
}

func dispatch(content blocks.Content) (string, any) {
	switch c := content.(type) {
	case blocks.RichText:
		return "rich_text", struct{ HTML template.HTML }{HTML: Sanitize(c.HTML)}
	case blocks.Hero:
		return "hero", c
	case blocks.Image:
		return "image", c
	case blocks.List:
		return "list", c
	case blocks.Button:
		return "button", c
	case blocks.Opaque:
		return "raw", rawView{Type: string(c.Type), Raw: prettyJSON(c.Raw)}
	default:
		panic(fmt.Sprintf("render: unhandled block content %T", content))
	}
}

// Sanitize strips markup that user generated content may not carry.
func Sanitize(markup string) template.HTML {
	return template.HTML(ugc.Sanitize(markup))
}

// Document renders a full HTML page. An unpublished page renders as the empty
// string; only published blocks are included.
func Document(p Page) (string, error) {
	if !p.Published {
		return "", nil
	}
	data := struct {
		Lang   string
		Slug   string
		Title  string
		Body   template.HTML
		Blocks template.HTML
	}{
		Lang:   "fr",
		Slug:   p.Slug,
		Title:  p.Title,
		Body:   Sanitize(p.Body),
		Blocks: Blocks(Visible(p.Published, p.Blocks)),
	}
	if strings.TrimSpace(string(data.Body)) == "" {
		data.Body = ""
	}

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render page %s: %w", p.Slug, err)
	}
	return buf.String(), nil
}

func prettyJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		return string(raw)
	}
	return out.String()
}
