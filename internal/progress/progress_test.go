package progress

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackzampolin/paperbatch/internal/ingest"
	"github.com/jackzampolin/paperbatch/internal/item"
	"github.com/jackzampolin/paperbatch/internal/testutil"
)

func manifest(category string, n int) *ingest.Manifest {
	m := &ingest.Manifest{Name: category}
	for i := 1; i <= n; i++ {
		m.Items = append(m.Items, item.New(category, i, filepath.Join("in", category, item.FormatID(category, i)+".pdf")))
	}
	return m
}

func ids(items []item.WorkItem) []string {
	out := make([]string, len(items))
	for i := range items {
		out[i] = items[i].ID()
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestLayout(t *testing.T) {
	l := NewLayout("/out")
	if got := l.ArtifactPath("ML", "ML-007"); got != filepath.Join("/out", "ML", "ML-007.json") {
		t.Errorf("ArtifactPath = %q", got)
	}

	got, err := l.PathForID("my-cat-012")
	if err != nil {
		t.Fatalf("PathForID: %v", err)
	}
	if got != filepath.Join("/out", "my-cat", "my-cat-012.json") {
		t.Errorf("PathForID = %q", got)
	}

	if _, err := l.PathForID("nosequence"); err == nil {
		t.Error("expected error for malformed id")
	}

	custom := Layout{OutputRoot: "/out", Extension: ".out.json"}
	if got := custom.ArtifactPath("ML", "ML-001"); filepath.Base(got) != "ML-001.out.json" {
		t.Errorf("custom extension path = %q", got)
	}
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	layout := NewLayout(dir)

	for _, backend := range []string{"", BackendFS} {
		s, err := Open(backend, layout, "")
		if err != nil {
			t.Fatalf("Open(%q): %v", backend, err)
		}
		if _, ok := s.(*FSStore); !ok {
			t.Errorf("Open(%q) = %T, want *FSStore", backend, s)
		}
	}

	s, err := Open(BackendSQLite, layout, filepath.Join(dir, "state", "progress.db"))
	if err != nil {
		t.Fatalf("Open(sqlite): %v", err)
	}
	defer s.Close()
	if _, ok := s.(*SQLiteStore); !ok {
		t.Errorf("Open(sqlite) = %T", s)
	}

	if _, err := Open("redis", layout, ""); !errors.Is(err, ErrUnknownBackend) {
		t.Errorf("Open(redis) error = %v, want ErrUnknownBackend", err)
	}
	if _, err := Open(BackendSQLite, layout, ""); err == nil {
		t.Error("expected error for sqlite without a path")
	}
}

// storeContract runs the behavior every backend must share.
func storeContract(t *testing.T, layout Layout, store Store) {
	ctx := context.Background()

	done, err := store.IsComplete(ctx, "ML-001")
	if err != nil {
		t.Fatalf("IsComplete: %v", err)
	}
	if done {
		t.Fatal("fresh store reports ML-001 complete")
	}

	path := layout.ArtifactPath("ML", "ML-001")
	if err := store.MarkComplete(ctx, "ML-001", path); err == nil {
		if _, ok := store.(*FSStore); ok {
			t.Error("FSStore accepted a completion without an artifact")
		}
	}

	testutil.WriteFile(t, path, []byte(`{"ok":true}`))
	if err := store.MarkComplete(ctx, "ML-001", path); err != nil {
		t.Fatalf("MarkComplete: %v", err)
	}
	done, err = store.IsComplete(ctx, "ML-001")
	if err != nil || !done {
		t.Fatalf("IsComplete after mark = %v, %v", done, err)
	}

	// Removing the artifact makes the item pending again.
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	done, err = store.IsComplete(ctx, "ML-001")
	if err != nil || done {
		t.Errorf("IsComplete after artifact removal = %v, %v", done, err)
	}
}

func TestFSStore(t *testing.T) {
	layout := NewLayout(t.TempDir())
	storeContract(t, layout, NewFSStore(layout))

	// An artifact alone is the marker.
	store := NewFSStore(layout)
	testutil.WriteFile(t, layout.ArtifactPath("CV", "CV-002"), []byte(`{}`))
	done, err := store.IsComplete(context.Background(), "CV-002")
	if err != nil || !done {
		t.Errorf("IsComplete(CV-002) = %v, %v", done, err)
	}

	// A directory at the artifact path is not a completion.
	if err := os.MkdirAll(layout.ArtifactPath("CV", "CV-003"), 0o755); err != nil {
		t.Fatal(err)
	}
	done, err = store.IsComplete(context.Background(), "CV-003")
	if err != nil || done {
		t.Errorf("IsComplete(CV-003 dir) = %v, %v", done, err)
	}
}

func TestSQLiteStore(t *testing.T) {
	dir := t.TempDir()
	layout := NewLayout(filepath.Join(dir, "out"))
	dbPath := filepath.Join(dir, "state", "progress.db")

	store, err := OpenSQLite(dbPath, layout)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	storeContract(t, layout, store)

	// An artifact without a row is complete and gets a row.
	testutil.WriteFile(t, layout.ArtifactPath("ML", "ML-002"), []byte(`{}`))
	done, err := store.IsComplete(context.Background(), "ML-002")
	if err != nil || !done {
		t.Errorf("IsComplete(ML-002 no row) = %v, %v", done, err)
	}

	ctx := context.Background()
	path := layout.ArtifactPath("ML", "ML-003")
	testutil.WriteFile(t, path, []byte(`{}`))
	if err := store.MarkComplete(ctx, "ML-003", path); err != nil {
		t.Fatal(err)
	}
	// Marking twice updates the row.
	if err := store.MarkComplete(ctx, "ML-003", path); err != nil {
		t.Fatalf("second MarkComplete: %v", err)
	}

	rows, err := store.Completions(ctx, "ML")
	if err != nil {
		t.Fatalf("Completions: %v", err)
	}
	if len(rows) != 3 || rows[0].ItemID != "ML-001" || rows[1].ItemID != "ML-002" || rows[2].ItemID != "ML-003" {
		t.Fatalf("Completions = %+v", rows)
	}
	if rows[1].ArtifactPath != layout.ArtifactPath("ML", "ML-002") {
		t.Errorf("adopted artifact path = %q", rows[1].ArtifactPath)
	}
	if rows[2].CompletedAt.IsZero() {
		t.Error("CompletedAt not parsed")
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	// Reopening keeps the rows.
	store, err = OpenSQLite(dbPath, layout)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()
	done, err = store.IsComplete(ctx, "ML-003")
	if err != nil || !done {
		t.Errorf("IsComplete after reopen = %v, %v", done, err)
	}
}

func TestSQLiteStore_SchemaMismatch(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "progress.db")
	store, err := OpenSQLite(dbPath, NewLayout(dir))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.db.Exec("UPDATE schema_version SET version = 99"); err != nil {
		t.Fatal(err)
	}
	store.Close()

	if _, err := OpenSQLite(dbPath, NewLayout(dir)); !errors.Is(err, ErrSchemaMismatch) {
		t.Errorf("error = %v, want ErrSchemaMismatch", err)
	}
}

func TestNextPending(t *testing.T) {
	layout := NewLayout(t.TempDir())
	store := NewFSStore(layout)
	m := manifest("ML", 5)

	for _, id := range []string{"ML-002", "ML-004"} {
		testutil.WriteFile(t, layout.ArtifactPath("ML", id), []byte(`{}`))
	}

	tests := []struct {
		name        string
		policy      ResumePolicy
		wantPending []string
		wantSkipped []string
	}{
		{
			name:        "automatic resume",
			policy:      ResumePolicy{},
			wantPending: []string{"ML-001", "ML-003", "ML-005"},
			wantSkipped: []string{"ML-002", "ML-004"},
		},
		{
			name:        "start from",
			policy:      ResumePolicy{StartFrom: 3},
			wantPending: []string{"ML-003", "ML-005"},
			wantSkipped: []string{"ML-001", "ML-002", "ML-004"},
		},
		{
			name:        "start from one is no offset",
			policy:      ResumePolicy{StartFrom: 1},
			wantPending: []string{"ML-001", "ML-003", "ML-005"},
			wantSkipped: []string{"ML-002", "ML-004"},
		},
		{
			name:        "force",
			policy:      ResumePolicy{Force: true},
			wantPending: []string{"ML-001", "ML-002", "ML-003", "ML-004", "ML-005"},
		},
		{
			name:        "force with start from",
			policy:      ResumePolicy{StartFrom: 4, Force: true},
			wantPending: []string{"ML-004", "ML-005"},
			wantSkipped: []string{"ML-001", "ML-002", "ML-003"},
		},
		{
			name:        "start from beyond end",
			policy:      ResumePolicy{StartFrom: 9},
			wantSkipped: []string{"ML-001", "ML-002", "ML-003", "ML-004", "ML-005"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel, err := NextPending(context.Background(), store, m, tt.policy)
			if err != nil {
				t.Fatalf("NextPending: %v", err)
			}
			if got := ids(sel.Pending); !equal(got, tt.wantPending) {
				t.Errorf("Pending = %v, want %v", got, tt.wantPending)
			}
			if got := ids(sel.Skipped); !equal(got, tt.wantSkipped) {
				t.Errorf("Skipped = %v, want %v", got, tt.wantSkipped)
			}
		})
	}
}

type failingStore struct{ *FSStore }

func (failingStore) IsComplete(context.Context, string) (bool, error) {
	return false, errors.New("disk on fire")
}

func TestNextPending_StoreError(t *testing.T) {
	_, err := NextPending(context.Background(), failingStore{NewFSStore(NewLayout(t.TempDir()))}, manifest("ML", 1), ResumePolicy{})
	if err == nil {
		t.Fatal("expected error")
	}
}
