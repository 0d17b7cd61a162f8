package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Entry is one question/answer pair of a requester's history. Resposta is
// empty until the background completion finishes (answer text or an
// "Erro: ..." placeholder).
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Contexto  string    `json:"contexto,omitempty"`
	Pergunta  string    `json:"pergunta"`
	Resposta  string    `json:"resposta,omitempty"`
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// HistoryStore keeps one append-only JSON file per requester under dir.
// Writers for the same requester serialize on the per-file lock; different
// requesters proceed independently.
type HistoryStore struct {
	dir         string
	lockTimeout time.Duration
}

func NewHistoryStore(dir string, lockTimeout time.Duration) (*HistoryStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure history dir: %w", err)
	}
	return &HistoryStore{dir: dir, lockTimeout: lockTimeout}, nil
}

func (s *HistoryStore) filePath(solicitante string) string {
	safe := unsafeFileChars.ReplaceAllString(solicitante, "_")
	return filepath.Join(s.dir, fmt.Sprintf("historico_%s.json", safe))
}

// Load returns the requester's entries in receipt order.
func (s *HistoryStore) Load(solicitante string) ([]Entry, error) {
	path := s.filePath(solicitante)
	var entries []Entry
	err := WithFileLock(path, s.lockTimeout, func() error {
		var err error
		entries, err = readEntries(path)
		return err
	})
	return entries, err
}

// Append adds an entry to the requester's file. The read-modify-write runs
// under a single lock acquisition so concurrent appends never lose updates.
func (s *HistoryStore) Append(solicitante string, entry Entry) error {
	path := s.filePath(solicitante)
	return WithFileLock(path, s.lockTimeout, func() error {
		entries, err := readEntries(path)
		if err != nil {
			return err
		}
		entries = append(entries, entry)
		return writeEntries(path, entries)
	})
}

// SetAnswer fills in the answer of the entry identified by entryID. The
// entry itself is never removed or reordered.
func (s *HistoryStore) SetAnswer(solicitante, entryID, resposta string) error {
	path := s.filePath(solicitante)
	return WithFileLock(path, s.lockTimeout, func() error {
		entries, err := readEntries(path)
		if err != nil {
			return err
		}
		for i := range entries {
			if entries[i].ID == entryID {
				entries[i].Resposta = resposta
				return writeEntries(path, entries)
			}
		}
		return fmt.Errorf("history entry %s not found for %s", entryID, solicitante)
	})
}

// Count returns how many history files exist.
func (s *HistoryStore) Count() (int, error) {
	items, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, it := range items {
		if !it.IsDir() && strings.HasSuffix(it.Name(), ".json") {
			n++
		}
	}
	return n, nil
}

// Dir returns the history directory.
func (s *HistoryStore) Dir() string { return s.dir }

func readEntries(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("read history: %w", err)
	}
	var entries []Entry
	if len(data) == 0 {
		return []Entry{}, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		// A corrupt file degrades to an empty history rather than
		// blocking the requester forever.
		return []Entry{}, nil
	}
	return entries, nil
}

func writeEntries(path string, entries []Entry) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(entries); err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	return nil
}
