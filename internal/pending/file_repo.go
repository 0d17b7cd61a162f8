// Package pending keeps the markers that link a requester to a completed
// but not yet delivered answer.
package pending

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"bot-gemini-middleware/internal/storage"
)

// Marker is a pending answer: created after the AI call succeeds, consumed
// when the pull endpoint delivers it to the chat platform.
type Marker struct {
	Solicitante    string    `json:"solicitante"`
	UserID         string    `json:"user_id,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Resposta       string    `json:"resposta"`
	CreatedAt      time.Time `json:"created_at"`
}

type Repository interface {
	Put(m Marker) error
	Get(solicitante string) (Marker, bool, error)
	Remove(solicitante string) error
	LoadAll() ([]Marker, error)
}

// FileRepository stores all markers in a single JSON file guarded by the
// storage lock discipline.
type FileRepository struct {
	path        string
	lockTimeout time.Duration
	mu          sync.Mutex
}

func NewFileRepository(path string, lockTimeout time.Duration) (*FileRepository, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("touch file: %w", err)
	}
	_ = f.Close()
	return &FileRepository{path: path, lockTimeout: lockTimeout}, nil
}

func (r *FileRepository) Put(m Marker) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return storage.WithFileLock(r.path, r.lockTimeout, func() error {
		markers, err := r.loadUnlocked()
		if err != nil {
			return err
		}
		updated := false
		for i, cur := range markers {
			if cur.Solicitante == m.Solicitante {
				markers[i] = m
				updated = true
				break
			}
		}
		if !updated {
			markers = append(markers, m)
		}
		return r.saveUnlocked(markers)
	})
}

func (r *FileRepository) Get(solicitante string) (Marker, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found Marker
	var ok bool
	err := storage.WithFileLock(r.path, r.lockTimeout, func() error {
		markers, err := r.loadUnlocked()
		if err != nil {
			return err
		}
		for _, m := range markers {
			if m.Solicitante == solicitante {
				found, ok = m, true
				return nil
			}
		}
		return nil
	})
	return found, ok, err
}

func (r *FileRepository) Remove(solicitante string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return storage.WithFileLock(r.path, r.lockTimeout, func() error {
		markers, err := r.loadUnlocked()
		if err != nil {
			return err
		}
		out := markers[:0]
		for _, m := range markers {
			if m.Solicitante != solicitante {
				out = append(out, m)
			}
		}
		return r.saveUnlocked(out)
	})
}

func (r *FileRepository) LoadAll() ([]Marker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var markers []Marker
	err := storage.WithFileLock(r.path, r.lockTimeout, func() error {
		var err error
		markers, err = r.loadUnlocked()
		return err
	})
	return markers, err
}

func (r *FileRepository) loadUnlocked() ([]Marker, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("read markers: %w", err)
	}
	if len(data) == 0 {
		return []Marker{}, nil
	}
	var markers []Marker
	if err := json.Unmarshal(data, &markers); err != nil {
		return []Marker{}, nil
	}
	return markers, nil
}

func (r *FileRepository) saveUnlocked(markers []Marker) error {
	f, err := os.OpenFile(r.path, os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open markers: %w", err)
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(markers)
}
