package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/plutolabs/pluto-backend/internal/platform/envutil"
	"github.com/plutolabs/pluto-backend/internal/platform/logger"
)

const maxStoredTurns = 50

// Turn is one persisted exchange. Turns are append-only; the file keeps the
// most recent maxStoredTurns.
type Turn struct {
	TurnID       int      `json:"turn_id"`
	Timestamp    string   `json:"timestamp"`
	Query        string   `json:"user_query"`
	Response     string   `json:"system_response"`
	CitedSources []string `json:"cited_sources"`
	Confidence   float64  `json:"confidence_score"`
	IsConflicted bool     `json:"is_conflicting"`
	Conflicts    []string `json:"conflicts"`
}

type scopeHistory struct {
	ScopeID string `json:"scope_id"`
	Turns   []Turn `json:"turns"`
	Created string `json:"created"`
	Updated string `json:"updated"`
}

// Store persists conversation history as one JSON file per scope.
type Store struct {
	log  *logger.Logger
	dir  string
	mu   sync.Mutex
	lock map[string]*sync.Mutex
}

func NewStore(log *logger.Logger) (*Store, error) {
	dir := envutil.String("CHAT_HISTORY_DIR", filepath.Join("data", "chat_history"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create chat history dir %s: %w", dir, err)
	}
	return &Store{
		log:  log.With("service", "CHAT_HISTORY"),
		dir:  dir,
		lock: make(map[string]*sync.Mutex),
	}, nil
}

func (s *Store) scopeLock(scopeID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lock[scopeID]
	if !ok {
		l = &sync.Mutex{}
		s.lock[scopeID] = l
	}
	return l
}

// safeFileName keeps only alphanumerics, dash and underscore so a scope id
// can never escape the storage directory.
func safeFileName(scopeID string) string {
	var b strings.Builder
	for _, r := range scopeID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "default"
	}
	return b.String()
}

func (s *Store) path(scopeID string) string {
	return filepath.Join(s.dir, safeFileName(scopeID)+".json")
}

// AppendTurn records one exchange, trimming the file to the newest
// maxStoredTurns. A corrupted file is replaced rather than failing the save.
func (s *Store) AppendTurn(scopeID string, turn Turn) error {
	l := s.scopeLock(scopeID)
	l.Lock()
	defer l.Unlock()

	now := time.Now().UTC().Format(time.RFC3339)
	hist, err := s.load(scopeID)
	if err != nil {
		s.log.Warn("corrupted history replaced", "scope_id", scopeID, "error", err)
		hist = nil
	}
	if hist == nil {
		hist = &scopeHistory{ScopeID: scopeID, Created: now}
	}
	turn.TurnID = len(hist.Turns) + 1
	turn.Timestamp = now
	if turn.CitedSources == nil {
		turn.CitedSources = []string{}
	}
	if turn.Conflicts == nil {
		turn.Conflicts = []string{}
	}
	hist.Turns = append(hist.Turns, turn)
	if len(hist.Turns) > maxStoredTurns {
		hist.Turns = hist.Turns[len(hist.Turns)-maxStoredTurns:]
	}
	hist.Updated = now

	raw, err := json.MarshalIndent(hist, "", "  ")
	if err != nil {
		return fmt.Errorf("encode history for scope: %w", err)
	}
	if err := os.WriteFile(s.path(scopeID), raw, 0o644); err != nil {
		return fmt.Errorf("write history file: %w", err)
	}
	return nil
}

// RecentTurns returns up to maxTurns of the newest exchanges, oldest first.
// Missing or unreadable history reads as empty.
func (s *Store) RecentTurns(scopeID string, maxTurns int) []Turn {
	l := s.scopeLock(scopeID)
	l.Lock()
	defer l.Unlock()

	hist, err := s.load(scopeID)
	if err != nil {
		s.log.Warn("history read failed", "scope_id", scopeID, "error", err)
		return nil
	}
	if hist == nil || len(hist.Turns) == 0 {
		return nil
	}
	turns := hist.Turns
	if maxTurns > 0 && len(turns) > maxTurns {
		turns = turns[len(turns)-maxTurns:]
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}

// Clear removes the scope's history file.
func (s *Store) Clear(scopeID string) error {
	l := s.scopeLock(scopeID)
	l.Lock()
	defer l.Unlock()

	err := os.Remove(s.path(scopeID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove history file: %w", err)
	}
	return nil
}

func (s *Store) load(scopeID string) (*scopeHistory, error) {
	raw, err := os.ReadFile(s.path(scopeID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var hist scopeHistory
	if err := json.Unmarshal(raw, &hist); err != nil {
		return nil, err
	}
	return &hist, nil
}
