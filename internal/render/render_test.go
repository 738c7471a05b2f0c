package render

import (
	"encoding/json"
	"strings"
	"testing"

	"lexicms/api/internal/store"
)

func block(id, typ, content string, order int, published bool) store.PageBlock {
	return store.PageBlock{ID: id, Type: typ, Content: json.RawMessage(content), OrderIndex: order, Published: published}
}

func TestVisibleRequiresPublishedPageAndBlock(t *testing.T) {
	items := []store.PageBlock{
		block("b2", "rich_text", `{"html":"<p>two</p>"}`, 2, true),
		block("b1", "rich_text", `{"html":"<p>one</p>"}`, 1, true),
		block("b3", "rich_text", `{"html":"<p>hidden</p>"}`, 3, false),
	}

	if got := Visible(false, items); len(got) != 0 {
		t.Fatalf("unpublished page must show nothing, got %d blocks", len(got))
	}

	got := Visible(true, items)
	if len(got) != 2 || got[0].ID != "b1" || got[1].ID != "b2" {
		t.Fatalf("unexpected visible blocks: %+v", got)
	}
}

func TestDocumentOfUnpublishedPageIsEmpty(t *testing.T) {
	out, err := Document(Page{
		Slug:      "brouillon",
		Title:     "Brouillon",
		Published: false,
		Blocks:    []store.PageBlock{block("b1", "rich_text", `{"html":"<p>secret</p>"}`, 1, true)},
	})
	if err != nil {
		t.Fatalf("Document() error = %v", err)
	}
	if out != "" {
		t.Fatalf("expected empty render, got %q", out)
	}
}

func TestDocumentRendersEachBlockType(t *testing.T) {
	out, err := Document(Page{
		Slug:      "home",
		Title:     "Accueil",
		Body:      "<p>Corps</p>",
		Published: true,
		Blocks: []store.PageBlock{
			block("b1", "hero", `{"heading":"Bienvenue","subheading":"Sous","ctaLabel":"Go","ctaHref":"/contact"}`, 1, true),
			block("b2", "rich_text", `{"html":"<p>Texte <strong>gras</strong></p>"}`, 2, true),
			block("b3", "image", `{"url":"https://cdn.example.org/a.png","alt":"Alt","caption":"Légende"}`, 3, true),
			block("b4", "list", `{"title":"Points","items":["un","deux"]}`, 4, true),
			block("b5", "button", `{"label":"Appeler","href":"tel:+33123456789"}`, 5, true),
			block("b6", "hidden", `{"html":"<p>not shown</p>"}`, 6, false),
		},
	})
	if err != nil {
		t.Fatalf("Document() error = %v", err)
	}

	for _, want := range []string{
		"<title>Accueil</title>",
		"<p>Corps</p>",
		"<h1>Bienvenue</h1>",
		`<a class="cta" href="/contact">Go</a>`,
		"<p>Texte <strong>gras</strong></p>",
		`<img src="https://cdn.example.org/a.png" alt="Alt"`,
		"<figcaption>Légende</figcaption>",
		"<li>un</li><li>deux</li>",
		">Appeler</a>",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("render missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "not shown") {
		t.Fatal("hidden block rendered")
	}
	if strings.Index(out, "Bienvenue") > strings.Index(out, "Texte") {
		t.Fatal("blocks rendered out of order")
	}
}

func TestUnknownTypeRendersRawDump(t *testing.T) {
	out := string(Block(block("b1", "carousel", `{"slides":["<a>","b"]}`, 1, true)))
	if !strings.Contains(out, `<pre class="block-raw" data-block-type="carousel">`) {
		t.Fatalf("expected raw dump, got %q", out)
	}
	if strings.Contains(out, "<a>") {
		t.Fatalf("raw dump must be escaped, got %q", out)
	}
	if !strings.Contains(out, "slides") {
		t.Fatalf("raw dump lost content: %q", out)
	}
}

func TestMalformedKnownTypeFallsBackToRawDump(t *testing.T) {
	out := string(Block(block("b1", "list", `{"items":"not-a-list"}`, 1, true)))
	if !strings.Contains(out, "block-raw") {
		t.Fatalf("expected raw dump for malformed content, got %q", out)
	}
}

func TestRichTextIsSanitized(t *testing.T) {
	out := string(Block(block("b1", "rich_text", `{"html":"<p onclick=\"x()\">ok</p><script>alert(1)</script>"}`, 1, true)))
	if strings.Contains(out, "script") || strings.Contains(out, "onclick") {
		t.Fatalf("unsafe markup survived: %q", out)
	}
	if !strings.Contains(out, "<p>ok</p>") {
		t.Fatalf("safe markup lost: %q", out)
	}
}

func TestUnsafeLinksAreNeutralized(t *testing.T) {
	out := string(Block(block("b1", "button", `{"label":"x","href":"javascript:alert(1)"}`, 1, true)))
	if strings.Contains(out, "javascript:") {
		t.Fatalf("javascript url survived: %q", out)
	}
}
