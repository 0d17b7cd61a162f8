package storage

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"
)

var numericIDRe = regexp.MustCompile(`\d{7,}`)

// IDLog records numeric identifiers (7+ digits) found in inbound fields,
// one per line, skipping ids already present in the file.
type IDLog struct {
	path        string
	lockTimeout time.Duration
	mu          sync.Mutex
}

func NewIDLog(path string, lockTimeout time.Duration) (*IDLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure id log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("init id log: %w", err)
	}
	_ = f.Close()
	return &IDLog{path: path, lockTimeout: lockTimeout}, nil
}

// Store extracts numeric ids from the given texts and appends the ones not
// seen before. It returns the ids extracted from this call (including the
// ones that were already known).
func (l *IDLog) Store(texts ...string) ([]string, error) {
	var found []string
	for _, t := range texts {
		found = append(found, numericIDRe.FindAllString(t, -1)...)
	}
	if len(found) == 0 {
		return nil, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	err := WithFileLock(l.path, l.lockTimeout, func() error {
		known, err := l.readKnown()
		if err != nil {
			return err
		}
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open id log: %w", err)
		}
		defer func(f *os.File) {
			_ = f.Close()
		}(f)
		for _, id := range found {
			if known[id] {
				continue
			}
			if _, err := fmt.Fprintln(f, id); err != nil {
				return fmt.Errorf("write id: %w", err)
			}
			known[id] = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// Path returns the id log file path.
func (l *IDLog) Path() string { return l.path }

func (l *IDLog) readKnown() (map[string]bool, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]bool{}, nil
		}
		return nil, fmt.Errorf("read id log: %w", err)
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)
	known := map[string]bool{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := sc.Text(); line != "" {
			known[line] = true
		}
	}
	return known, sc.Err()
}
