// Package history records finished conversions in a bleve index so recent
// jobs can be listed and their recognized text searched.
package history

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/google/uuid"
)

// Limit is the number of entries kept; older ones are pruned on Add.
const Limit = 50

// Status is the terminal outcome of a job.
type Status string

const (
	StatusCompleted    Status = "Completed"
	StatusFailed       Status = "Failed"
	StatusCancelled    Status = "Cancelled"
	StatusBatchSuccess Status = "Batch Success"
	StatusBatchFailed  Status = "Batch Failed"
)

// Entry is one recorded job. Text is indexed for search but not stored.
type Entry struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	Status     Status    `json:"status"`
	Size       int64     `json:"size"`
	Pages      int       `json:"pages"`
	SourcePath string    `json:"source_path"`
	OutputPath string    `json:"output_path"`
	Error      string    `json:"error,omitempty"`
	Date       time.Time `json:"date"`
	Text       string    `json:"text,omitempty"`
}

// SizeMB formats Size the way the job list shows it.
func (e Entry) SizeMB() string {
	return fmt.Sprintf("%.2f MB", float64(e.Size)/(1024*1024))
}

// Store is a bleve-backed job history. Safe for concurrent use.
type Store struct {
	mu  sync.Mutex
	idx bleve.Index
}

// Open opens the index at path, creating it on first use.
func Open(path string) (*Store, error) {
	var idx bleve.Index
	var err error
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		idx, err = bleve.New(path, newMapping())
	} else {
		idx, err = bleve.Open(path)
	}
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}
	return &Store{idx: idx}, nil
}

// OpenMem returns a store that lives only in memory.
func OpenMem() (*Store, error) {
	idx, err := bleve.NewMemOnly(newMapping())
	if err != nil {
		return nil, err
	}
	return &Store{idx: idx}, nil
}

func newMapping() mapping.IndexMapping {
	keyword := bleve.NewKeywordFieldMapping()
	numeric := bleve.NewNumericFieldMapping()
	text := bleve.NewTextFieldMapping()
	body := bleve.NewTextFieldMapping()
	body.Store = false

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("id", keyword)
	doc.AddFieldMappingsAt("filename", text)
	doc.AddFieldMappingsAt("status", keyword)
	doc.AddFieldMappingsAt("size", numeric)
	doc.AddFieldMappingsAt("pages", numeric)
	doc.AddFieldMappingsAt("source_path", keyword)
	doc.AddFieldMappingsAt("output_path", keyword)
	doc.AddFieldMappingsAt("error", text)
	doc.AddFieldMappingsAt("date", bleve.NewDateTimeFieldMapping())
	doc.AddFieldMappingsAt("text", body)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	return m
}

// Add records e, assigning an ID and date when missing, and prunes the
// history down to Limit entries.
func (s *Store) Add(e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Date.IsZero() {
		e.Date = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.idx.Index(e.ID, e); err != nil {
		return e, fmt.Errorf("record %s: %w", e.Filename, err)
	}
	return e, s.prune()
}

func (s *Store) prune() error {
	n, err := s.idx.DocCount()
	if err != nil || n <= Limit {
		return err
	}
	req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), int(n)-Limit, Limit, false)
	req.SortBy([]string{"-date"})
	res, err := s.idx.Search(req)
	if err != nil {
		return fmt.Errorf("prune history: %w", err)
	}
	b := s.idx.NewBatch()
	for _, hit := range res.Hits {
		b.Delete(hit.ID)
	}
	return s.idx.Batch(b)
}

// Recent returns up to n entries, newest first.
func (s *Store) Recent(n int) ([]Entry, error) {
	req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), n, 0, false)
	req.SortBy([]string{"-date"})
	return s.search(req)
}

// Search returns up to n entries whose filename, error or recognized text
// contains every term of q, best match first.
func (s *Store) Search(q string, n int) ([]Entry, error) {
	if q == "" {
		return s.Recent(n)
	}
	mq := bleve.NewMatchQuery(q)
	mq.SetOperator(query.MatchQueryOperatorAnd)
	return s.search(bleve.NewSearchRequestOptions(mq, n, 0, false))
}

func (s *Store) search(req *bleve.SearchRequest) ([]Entry, error) {
	req.Fields = []string{"*"}
	res, err := s.idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("history search: %w", err)
	}
	entries := make([]Entry, 0, len(res.Hits))
	for _, hit := range res.Hits {
		entries = append(entries, fromHit(hit))
	}
	return entries, nil
}

func fromHit(hit *search.DocumentMatch) Entry {
	e := Entry{ID: hit.ID}
	str := func(k string) string {
		v, _ := hit.Fields[k].(string)
		return v
	}
	num := func(k string) float64 {
		v, _ := hit.Fields[k].(float64)
		return v
	}
	e.Filename = str("filename")
	e.Status = Status(str("status"))
	e.SourcePath = str("source_path")
	e.OutputPath = str("output_path")
	e.Error = str("error")
	e.Size = int64(num("size"))
	e.Pages = int(num("pages"))
	if t, err := time.Parse(time.RFC3339Nano, str("date")); err == nil {
		e.Date = t
	}
	return e
}

// Delete removes one entry. Deleting an unknown ID is not an error.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idx.Delete(id)
}

// Clear removes every entry.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.idx.DocCount()
	if err != nil || n == 0 {
		return err
	}
	res, err := s.idx.Search(bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), int(n), 0, false))
	if err != nil {
		return err
	}
	b := s.idx.NewBatch()
	for _, hit := range res.Hits {
		b.Delete(hit.ID)
	}
	return s.idx.Batch(b)
}

// Count returns the number of recorded entries.
func (s *Store) Count() (int, error) {
	n, err := s.idx.DocCount()
	return int(n), err
}

func (s *Store) Close() error {
	if s == nil || s.idx == nil {
		return errors.New("history: store not open")
	}
	return s.idx.Close()
}
