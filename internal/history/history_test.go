package history

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func openMem(t *testing.T) *Store {
	t.Helper()
	s, err := OpenMem()
	if err != nil {
		t.Fatalf("OpenMem: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// ========== Add / Recent ==========

func TestAdd_AssignsIDAndDate(t *testing.T) {
	s := openMem(t)
	e, err := s.Add(Entry{Filename: "scan.pdf", Status: StatusCompleted})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if e.ID == "" || e.Date.IsZero() {
		t.Errorf("Add did not fill ID/Date: %+v", e)
	}
}

func TestRecent_NewestFirstWithFields(t *testing.T) {
	s := openMem(t)
	for i, name := range []string{"a.pdf", "b.pdf", "c.pdf"} {
		_, err := s.Add(Entry{
			Filename:   name,
			Status:     StatusCompleted,
			Size:       int64(1024 * 1024 * (i + 1)),
			Pages:      i + 2,
			SourcePath: "/in/" + name,
			OutputPath: "/out/ocr_" + name,
			Date:       epoch.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d entries, want 3", len(got))
	}
	if got[0].Filename != "c.pdf" || got[2].Filename != "a.pdf" {
		t.Errorf("order = %s, %s, %s; want newest first", got[0].Filename, got[1].Filename, got[2].Filename)
	}
	c := got[0]
	if c.Status != StatusCompleted || c.Pages != 4 || c.OutputPath != "/out/ocr_c.pdf" || c.SizeMB() != "3.00 MB" {
		t.Errorf("fields lost in round trip: %+v", c)
	}
	if !c.Date.Equal(epoch.Add(2 * time.Minute)) {
		t.Errorf("date = %v", c.Date)
	}
}

func TestAdd_PrunesToLimit(t *testing.T) {
	s := openMem(t)
	for i := 0; i < Limit+7; i++ {
		_, err := s.Add(Entry{Filename: fmt.Sprintf("f%02d.pdf", i), Status: StatusCompleted, Date: epoch.Add(time.Duration(i) * time.Second)})
		if err != nil {
			t.Fatal(err)
		}
	}
	n, err := s.Count()
	if err != nil || n != Limit {
		t.Fatalf("Count = %d, %v; want %d", n, err, Limit)
	}
	got, _ := s.Recent(Limit)
	if last := got[len(got)-1].Filename; last != "f07.pdf" {
		t.Errorf("oldest kept = %s, want f07.pdf", last)
	}
}

// ========== Search ==========

func TestSearch_RecognizedText(t *testing.T) {
	s := openMem(t)
	s.Add(Entry{Filename: "invoice.pdf", Status: StatusCompleted, Text: "Invoice number 4411 payable to Dhaka Traders"})
	s.Add(Entry{Filename: "letter.pdf", Status: StatusCompleted, Text: "Dear committee, please find attached"})
	s.Add(Entry{Filename: "broken.pdf", Status: StatusFailed, Error: "ocrmypdf exited with status 6"})

	got, err := s.Search("traders", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].Filename != "invoice.pdf" {
		t.Fatalf("Search(traders) = %+v", got)
	}
	if got[0].Text != "" {
		t.Error("recognized text should not be stored")
	}

	if got, _ := s.Search("letter.pdf", 10); len(got) != 1 || got[0].Filename != "letter.pdf" {
		t.Errorf("filename search = %+v", got)
	}
	if got, _ := s.Search("", 10); len(got) != 3 {
		t.Errorf("empty query returned %d entries, want 3", len(got))
	}
}

// ========== Delete / Clear ==========

func TestDeleteAndClear(t *testing.T) {
	s := openMem(t)
	a, _ := s.Add(Entry{Filename: "a.pdf", Status: StatusCancelled})
	s.Add(Entry{Filename: "b.pdf", Status: StatusBatchFailed})

	if err := s.Delete(a.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n, _ := s.Count(); n != 1 {
		t.Errorf("Count after delete = %d", n)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if n, _ := s.Count(); n != 0 {
		t.Errorf("Count after clear = %d", n)
	}
}

// ========== Open ==========

func TestOpen_Reopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.bleve")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.Add(Entry{Filename: "kept.pdf", Status: StatusBatchSuccess})
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, _ := s.Recent(5)
	if len(got) != 1 || got[0].Status != StatusBatchSuccess {
		t.Errorf("after reopen = %+v", got)
	}
}
