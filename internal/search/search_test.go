package search

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	meili "github.com/meilisearch/meilisearch-go"
)

func TestPlainText(t *testing.T) {
	cases := map[string]string{
		"<h1>Tarifs</h1><p>Dès   10&nbsp;€</p>": "Tarifs Dès 10 €",
		"<script>alert(1)</script><p>ok</p>":   "ok",
		"":                                     "",
	}
	for in, want := range cases {
		if got := PlainText(in); got != want {
			t.Fatalf("PlainText(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestHitToResultPrefersFormatted(t *testing.T) {
	raw := func(v any) json.RawMessage {
		b, _ := json.Marshal(v)
		return b
	}
	hit := meili.Hit{
		"id":    raw("pg_1"),
		"slug":  raw("tarifs"),
		"title": raw("Tarifs"),
		"body":  raw("Nos prix"),
		"_formatted": raw(map[string]any{
			"title":     "<mark>Tarifs</mark>",
			"body":      "Nos <mark>prix</mark>",
			"updatedAt": "1700000000",
		}),
	}
	got := hitToResult(hit)
	if got.ID != "pg_1" || got.Slug != "tarifs" {
		t.Fatalf("unexpected identity fields: %+v", got)
	}
	if got.Title != "<mark>Tarifs</mark>" || got.Snippet != "Nos <mark>prix</mark>" {
		t.Fatalf("expected highlighted fields, got %+v", got)
	}
}

func TestServiceWithoutBackendsReturnsEmpty(t *testing.T) {
	svc := NewService(nil, nil)
	resp := svc.Search(Query{Text: "prix"})
	if resp.Results == nil || len(resp.Results) != 0 || resp.Query != "prix" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	// indexing without meilisearch is a no-op
	svc.IndexPage(PageRecord{ID: "pg_1"})
	svc.DeletePage("pg_1")
	svc.Close()
}

type fakeIndex struct {
	mu      sync.Mutex
	healthy bool
	failing bool
	calls   []string
	docs    map[string]PageRecord
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{healthy: true, docs: map[string]PageRecord{}}
}

func (f *fakeIndex) setHealthy(v bool) {
	f.mu.Lock()
	f.healthy = v
	f.mu.Unlock()
}

func (f *fakeIndex) Healthy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthy
}

func (f *fakeIndex) Search(Query) ([]Result, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	results := make([]Result, 0, len(f.docs))
	for _, doc := range f.docs {
		results = append(results, Result{ID: doc.ID, Slug: doc.Slug, Title: doc.Title})
	}
	return results, len(results), nil
}

func (f *fakeIndex) IndexPage(page PageRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errors.New("index down")
	}
	f.calls = append(f.calls, "index "+page.ID)
	f.docs[page.ID] = page
	return nil
}

func (f *fakeIndex) DeletePage(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errors.New("index down")
	}
	f.calls = append(f.calls, "delete "+id)
	delete(f.docs, id)
	return nil
}

func (f *fakeIndex) ReplacePages(pages []PageRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "replace")
	f.docs = map[string]PageRecord{}
	for _, page := range pages {
		f.docs[page.ID] = page
	}
	return nil
}

func (f *fakeIndex) snapshot() ([]string, map[string]PageRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	docs := make(map[string]PageRecord, len(f.docs))
	for id, doc := range f.docs {
		docs[id] = doc
	}
	return append([]string(nil), f.calls...), docs
}

func TestServiceAppliesWritesInCallOrder(t *testing.T) {
	index := newFakeIndex()
	svc := newService(index, nil, nil)

	for i := 0; i < 20; i++ {
		svc.IndexPage(PageRecord{ID: "pg_1", Title: "Tarifs"})
		svc.DeletePage("pg_1")
	}
	svc.Close()

	calls, docs := index.snapshot()
	if len(calls) != 40 {
		t.Fatalf("expected 40 calls, got %d", len(calls))
	}
	for i, call := range calls {
		want := "index pg_1"
		if i%2 == 1 {
			want = "delete pg_1"
		}
		if call != want {
			t.Fatalf("call %d: got %q want %q", i, call, want)
		}
	}
	if _, ok := docs["pg_1"]; ok {
		t.Fatal("page unpublished last must not stay indexed")
	}
}

func TestServiceRebuildsIndexAfterOutage(t *testing.T) {
	index := newFakeIndex()
	index.docs["pg_home"] = PageRecord{ID: "pg_home", Slug: "home", Title: "Accueil"}
	index.docs["pg_secret"] = PageRecord{ID: "pg_secret", Slug: "secret", Title: "Brouillon"}
	loads := 0
	load := func(context.Context) ([]PageRecord, error) {
		loads++
		return []PageRecord{{ID: "pg_home", Slug: "home", Title: "Accueil"}}, nil
	}

	// pg_secret is unpublished while the index is down
	index.setHealthy(false)
	down := newService(index, nil, load)
	down.DeletePage("pg_secret")
	down.Close()
	if _, docs := index.snapshot(); len(docs) != 2 {
		t.Fatalf("expected skipped write while down, got %v", docs)
	}
	if !down.stale.Load() {
		t.Fatal("skipped write must mark the index stale")
	}

	index.setHealthy(true)
	up := newService(index, nil, load)
	up.Reindex()
	up.Close()

	_, docs := index.snapshot()
	if _, ok := docs["pg_secret"]; ok {
		t.Fatalf("unpublished page still searchable after recovery: %v", docs)
	}
	if _, ok := docs["pg_home"]; !ok || len(docs) != 1 {
		t.Fatalf("expected only published pages after rebuild, got %v", docs)
	}
	if loads != 1 {
		t.Fatalf("expected one rebuild, got %d", loads)
	}
}

func TestServiceRebuildsOnNextWriteAfterFailure(t *testing.T) {
	index := newFakeIndex()
	svc := newService(index, nil, func(context.Context) ([]PageRecord, error) {
		return []PageRecord{{ID: "pg_home"}}, nil
	})

	index.mu.Lock()
	index.failing = true
	index.mu.Unlock()
	svc.DeletePage("pg_secret")
	svc.Close()
	if !svc.stale.Load() {
		t.Fatal("failed write must mark the index stale")
	}

	index.mu.Lock()
	index.failing = false
	index.docs["pg_secret"] = PageRecord{ID: "pg_secret"}
	index.mu.Unlock()
	next := newService(index, nil, svc.load)
	next.stale.Store(true)
	next.IndexPage(PageRecord{ID: "pg_home"})
	next.Close()

	calls, docs := index.snapshot()
	if calls[len(calls)-1] != "replace" {
		t.Fatalf("expected a rebuild instead of a single write, got %v", calls)
	}
	if _, ok := docs["pg_secret"]; ok {
		t.Fatalf("stale page survived rebuild: %v", docs)
	}
	if next.stale.Load() {
		t.Fatal("successful rebuild must clear the stale flag")
	}
}

func TestPgFTSEmptyQuery(t *testing.T) {
	results, total, err := NewPgFTS(nil).Search(Query{Text: "   "})
	if err != nil || total != 0 || len(results) != 0 {
		t.Fatalf("expected empty result for blank query, got %v %d %v", results, total, err)
	}
}

func TestNewServiceRebuildsWhenMeiliRecovers(t *testing.T) {
	m := &Meili{done: make(chan struct{})}
	svc := NewService(m, nil)
	defer svc.Close()

	m.mu.Lock()
	hook := m.onRecover
	m.mu.Unlock()
	if hook == nil {
		t.Fatal("expected a recovery hook on the meilisearch client")
	}
}
