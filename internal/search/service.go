package search

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

const (
	queueSize      = 256
	reindexTimeout = time.Minute
)

type opKind int

const (
	opIndex opKind = iota
	opDelete
	opReindex
)

type indexOp struct {
	kind opKind
	page PageRecord
	id   string
}

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
// Index writes go through one worker so they reach Meilisearch in call order.
type Service struct {
	index Index
	pgfts *PgFTS
	load  func(ctx context.Context) ([]PageRecord, error)

	// stale is set whenever a write was skipped or failed; the next write
	// that finds the index healthy rebuilds it from PostgreSQL instead.
	stale atomic.Bool

	mu     sync.Mutex
	closed bool
	ops    chan indexOp
	done   chan struct{}
}

// NewService creates a search service. Either backend may be nil.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	var index Index
	if meili != nil {
		index = meili
	}
	var load func(context.Context) ([]PageRecord, error)
	if pgfts != nil {
		load = pgfts.LoadPublishedRecords
	}
	s := newService(index, pgfts, load)
	if meili != nil {
		meili.OnRecover(s.Reindex)
	}
	return s
}

func newService(index Index, pgfts *PgFTS, load func(context.Context) ([]PageRecord, error)) *Service {
	s := &Service{
		index: index,
		pgfts: pgfts,
		load:  load,
		ops:   make(chan indexOp, queueSize),
		done:  make(chan struct{}),
	}
	go s.run()
	return s
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.index != nil && s.index.Healthy() {
		results, total, err := s.index.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	if s.pgfts == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexPage queues a published page for indexing.
func (s *Service) IndexPage(page PageRecord) {
	s.enqueue(indexOp{kind: opIndex, page: page, id: page.ID})
}

// DeletePage queues removal of a page from the index.
func (s *Service) DeletePage(id string) {
	s.enqueue(indexOp{kind: opDelete, id: id})
}

// Reindex queues a full rebuild of the index from the published pages in
// PostgreSQL. Pages unpublished or deleted meanwhile drop out of the index.
func (s *Service) Reindex() {
	s.enqueue(indexOp{kind: opReindex})
}

// Close stops accepting writes, drains the queue and waits for the worker.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	close(s.ops)
	s.mu.Unlock()
	<-s.done
}

func (s *Service) enqueue(op indexOp) {
	if s.index == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ops <- op:
	default:
		log.Printf("search: queue full, dropping op for %q and marking index stale", op.id)
		s.stale.Store(true)
	}
}

func (s *Service) run() {
	defer close(s.done)
	for op := range s.ops {
		s.apply(op)
	}
}

func (s *Service) apply(op indexOp) {
	if !s.index.Healthy() {
		s.stale.Store(true)
		return
	}
	if op.kind == opReindex || s.stale.Load() {
		s.rebuild()
		return
	}

	var err error
	switch op.kind {
	case opIndex:
		err = s.index.IndexPage(op.page)
	case opDelete:
		err = s.index.DeletePage(op.id)
	}
	if err != nil {
		log.Printf("search: sync page %s: %v", op.id, err)
		s.stale.Store(true)
	}
}

func (s *Service) rebuild() {
	if s.load == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), reindexTimeout)
	defer cancel()

	s.stale.Store(false)
	pages, err := s.load(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		s.stale.Store(true)
		return
	}
	if err := s.index.ReplacePages(pages); err != nil {
		log.Printf("search: reindex pages: %v", err)
		s.stale.Store(true)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
