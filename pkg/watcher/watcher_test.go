package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAnalyzeChanges(t *testing.T) {
	tests := []struct {
		event       ChangeEvent
		wantCatalog bool
		wantDoc     bool
	}{
		{ChangeEvent{Type: ChangeTypeCatalog, Paths: []string{"blocks.toml"}}, true, true},
		{ChangeEvent{Type: ChangeTypeDocument, Paths: []string{"doc.json"}}, false, true},
	}
	for _, tt := range tests {
		a := AnalyzeChanges(tt.event)
		if a.NeedCatalogReload != tt.wantCatalog || a.NeedDocumentReload != tt.wantDoc {
			t.Errorf("%s: got catalog=%v document=%v", tt.event.Type, a.NeedCatalogReload, a.NeedDocumentReload)
		}
		if len(a.ChangedFiles) != 1 {
			t.Errorf("%s: expected changed files to be carried over, got %v", tt.event.Type, a.ChangedFiles)
		}
	}
}

func TestClassify(t *testing.T) {
	dir := t.TempDir()
	catDir := filepath.Join(dir, "catalogs")
	if err := os.Mkdir(catDir, 0o755); err != nil {
		t.Fatal(err)
	}
	fw, err := NewFileWatcher(filepath.Join(dir, "doc.json"), []string{catDir, filepath.Join(dir, "extra.toml")})
	if err != nil {
		t.Fatal(err)
	}
	defer fw.Stop()

	tests := []struct {
		path string
		want ChangeType
		ok   bool
	}{
		{filepath.Join(dir, "doc.json"), ChangeTypeDocument, true},
		{filepath.Join(dir, "extra.toml"), ChangeTypeCatalog, true},
		{filepath.Join(catDir, "robots.toml"), ChangeTypeCatalog, true},
		{filepath.Join(catDir, "notes.txt"), 0, false},
		{filepath.Join(dir, "other.json"), 0, false},
	}
	for _, tt := range tests {
		got, ok := fw.classify(tt.path)
		if ok != tt.ok || got != tt.want {
			t.Errorf("classify(%s) = %v, %v; want %v, %v", tt.path, got, ok, tt.want, tt.ok)
		}
	}
}

func TestDocumentWriteIsReported(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "doc.json")
	if err := os.WriteFile(doc, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	fw, err := NewFileWatcher(doc, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := fw.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "unrelated.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(doc, []byte(`{"variables":[]}`), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-fw.Events():
		if ev.Type != ChangeTypeDocument || len(ev.Paths) != 1 || ev.Paths[0] != doc {
			t.Errorf("Unexpected event %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timeout waiting for document change")
	}
}

func TestStartWithNothingToWatch(t *testing.T) {
	fw, err := NewFileWatcher("", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer fw.Stop()
	if err := fw.Start(context.Background()); err == nil {
		t.Error("Expected an error when nothing is watched")
	}
}

func TestDebouncerMergesBurst(t *testing.T) {
	in := make(chan ChangeEvent, 10)
	d := NewDebouncer(in, 30*time.Millisecond, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	in <- ChangeEvent{Type: ChangeTypeDocument, Paths: []string{"doc.json"}}
	in <- ChangeEvent{Type: ChangeTypeDocument, Paths: []string{"doc.json"}}
	in <- ChangeEvent{Type: ChangeTypeCatalog, Paths: []string{"a.toml"}}

	var got []ChangeEvent
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case ev := <-d.Output():
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("Timeout, got %d events", len(got))
		}
	}

	if got[0].Type != ChangeTypeCatalog {
		t.Errorf("Expected catalog changes first, got %v", got[0].Type)
	}
	if len(got[1].Paths) != 1 {
		t.Errorf("Expected duplicate paths to be merged, got %v", got[1].Paths)
	}
}

func TestDebouncerMaxWait(t *testing.T) {
	in := make(chan ChangeEvent)
	d := NewDebouncer(in, time.Hour, 50*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	in <- ChangeEvent{Type: ChangeTypeDocument, Paths: []string{"doc.json"}}

	select {
	case <-d.Output():
	case <-time.After(2 * time.Second):
		t.Fatal("maxWait did not force a flush")
	}
}

func TestDebouncerClosesOnInputClose(t *testing.T) {
	in := make(chan ChangeEvent)
	d := NewDebouncer(in, time.Hour, time.Hour)
	d.Start(context.Background())

	close(in)

	select {
	case _, ok := <-d.Output():
		if ok {
			t.Error("Expected output to close without events")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Output was not closed")
	}
}
