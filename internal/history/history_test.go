package history

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/plutolabs/pluto-backend/internal/platform/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	t.Setenv("CHAT_HISTORY_DIR", t.TempDir())
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(func() {
		log.Sync()
	})
	store, err := NewStore(log)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestAppendAndRecentTurns(t *testing.T) {
	store := newTestStore(t)

	for _, q := range []string{"first", "second", "third", "fourth"} {
		if err := store.AppendTurn("scope-a", Turn{Query: q, Response: "answer to " + q}); err != nil {
			t.Fatalf("append turn: %v", err)
		}
	}

	turns := store.RecentTurns("scope-a", 3)
	if len(turns) != 3 {
		t.Fatalf("len want=3 got=%d", len(turns))
	}
	if turns[0].Query != "second" || turns[2].Query != "fourth" {
		t.Fatalf("window want=[second..fourth] got=[%s..%s]", turns[0].Query, turns[2].Query)
	}
	if turns[2].TurnID != 4 {
		t.Fatalf("turn_id want=4 got=%d", turns[2].TurnID)
	}
}

func TestTurnsCappedAtFifty(t *testing.T) {
	store := newTestStore(t)
	for i := 0; i < 55; i++ {
		if err := store.AppendTurn("scope-b", Turn{Query: "q", Response: "a"}); err != nil {
			t.Fatalf("append turn: %v", err)
		}
	}
	turns := store.RecentTurns("scope-b", 0)
	if len(turns) != 50 {
		t.Fatalf("len want=50 got=%d", len(turns))
	}
}

func TestScopesAreIsolated(t *testing.T) {
	store := newTestStore(t)
	if err := store.AppendTurn("scope-a", Turn{Query: "q1", Response: "a1"}); err != nil {
		t.Fatalf("append turn: %v", err)
	}
	if got := store.RecentTurns("scope-b", 3); len(got) != 0 {
		t.Fatalf("scope-b turns want=0 got=%d", len(got))
	}
}

func TestSafeFileName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"scope-1", "scope-1"},
		{"../../etc/passwd", "etcpasswd"},
		{"a b/c", "abc"},
		{"", "default"},
	}
	for _, tc := range cases {
		if got := safeFileName(tc.in); got != tc.want {
			t.Fatalf("safeFileName(%q) want=%q got=%q", tc.in, tc.want, got)
		}
	}
}

func TestClearRemovesFile(t *testing.T) {
	store := newTestStore(t)
	if err := store.AppendTurn("scope-c", Turn{Query: "q", Response: "a"}); err != nil {
		t.Fatalf("append turn: %v", err)
	}
	if err := store.Clear("scope-c"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := os.Stat(filepath.Join(store.dir, "scope-c.json")); !os.IsNotExist(err) {
		t.Fatalf("history file should be gone, stat err=%v", err)
	}
	if err := store.Clear("scope-c"); err != nil {
		t.Fatalf("clear missing scope: %v", err)
	}
}
