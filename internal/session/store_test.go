package session

import (
	"errors"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/lococli/loco/internal/core/agent"
)

func sampleSnapshot() agent.SessionSnapshot {
	return agent.SessionSnapshot{
		History: []agent.Message{
			{Role: agent.RoleUser, Content: "add a health endpoint"},
			{Role: agent.RoleAssistant, Content: "done"},
		},
		Todos: []agent.TodoItem{
			{ID: "t1", Title: "add handler", Status: agent.TodoCompleted},
		},
		UpdatedAt: time.Now().UTC(),
	}
}

func TestFileStoreRoundtrip(t *testing.T) {
	t.Parallel()

	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	want := sampleSnapshot()
	if err := store.Put("alpha", want); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := store.Get("alpha")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.History) != 2 || got.History[0].Content != "add a health endpoint" {
		t.Fatalf("history = %+v", got.History)
	}
	if len(got.Todos) != 1 || got.Todos[0].Status != agent.TodoCompleted {
		t.Fatalf("todos = %+v", got.Todos)
	}
}

func TestFileStoreOverwrite(t *testing.T) {
	t.Parallel()

	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	first := sampleSnapshot()
	if err := store.Put("s", first); err != nil {
		t.Fatalf("Put: %v", err)
	}
	second := sampleSnapshot()
	second.History = append(second.History, agent.Message{Role: agent.RoleUser, Content: "one more thing"})
	if err := store.Put("s", second); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}

	got, err := store.Get("s")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.History) != 3 {
		t.Fatalf("history length = %d, want the overwritten snapshot", len(got.History))
	}
}

func TestFileStoreGetMissing(t *testing.T) {
	t.Parallel()

	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if _, err := store.Get("ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get missing = %v, want ErrNotFound", err)
	}
}

func TestFileStoreDelete(t *testing.T) {
	t.Parallel()

	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := store.Put("gone", sampleSnapshot()); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Delete("gone"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get("gone"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after delete = %v, want ErrNotFound", err)
	}
	if err := store.Delete("gone"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Delete missing = %v, want ErrNotFound", err)
	}
}

func TestFileStoreList(t *testing.T) {
	t.Parallel()

	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	for _, id := range []string{"b", "a", "c"} {
		if err := store.Put(id, sampleSnapshot()); err != nil {
			t.Fatalf("Put %s: %v", id, err)
		}
	}

	ids, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	sort.Strings(ids)
	if len(ids) != 3 || ids[0] != "a" || ids[2] != "c" {
		t.Fatalf("ids = %v", ids)
	}
}

func TestFileStoreInvalidIDs(t *testing.T) {
	t.Parallel()

	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	for _, id := range []string{"", "a/b", `a\b`, "..", "x..y"} {
		if err := store.Put(id, sampleSnapshot()); err == nil {
			t.Fatalf("Put(%q) accepted an invalid id", id)
		}
		if _, err := store.Get(id); err == nil {
			t.Fatalf("Get(%q) accepted an invalid id", id)
		}
	}
}

func TestFileStoreNoTempFileLeftBehind(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := store.Put("clean", sampleSnapshot()); err != nil {
		t.Fatalf("Put: %v", err)
	}

	leftovers, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(leftovers) != 0 {
		t.Fatalf("temp files left behind: %v", leftovers)
	}
}

func TestAutosaver(t *testing.T) {
	t.Parallel()

	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	saver := NewAutosaver(store, "auto")
	saver.Save(sampleSnapshot())

	got, err := store.Get("auto")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.History) != 2 {
		t.Fatalf("autosaved history = %+v", got.History)
	}
}
