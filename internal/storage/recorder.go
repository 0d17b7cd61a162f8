// Package storage is the persistence layer. It exclusively owns the on-disk
// records (append-only logs, per-requester histories, the id log); all
// mutation goes through its advisory-lock discipline.
package storage

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Recorder appends inbound payloads to the two audit logs: a timestamped
// general log and a raw one-JSON-per-line log. Lines are never mutated
// except by cleanup. Safe for concurrent use.
type Recorder struct {
	generalPath string
	rawPath     string
	lockTimeout time.Duration
	mu          sync.Mutex
}

func NewRecorder(generalPath, rawPath string, lockTimeout time.Duration) (*Recorder, error) {
	for _, p := range []string{generalPath, rawPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, fmt.Errorf("ensure log dir: %w", err)
		}
		f, err := os.OpenFile(p, os.O_CREATE, 0o644)
		if err != nil {
			return nil, fmt.Errorf("init log file: %w", err)
		}
		_ = f.Close()
	}
	return &Recorder{generalPath: generalPath, rawPath: rawPath, lockTimeout: lockTimeout}, nil
}

// AppendEntry writes a timestamped line with the raw payload to the general
// log.
func (r *Recorder) AppendEntry(ts time.Time, raw []byte) error {
	line := fmt.Sprintf("[%s] %s\n", ts.Format("2006-01-02 15:04:05"), raw)
	return r.append(r.generalPath, []byte(line))
}

// AppendRaw writes the payload as a single JSON line to the raw log.
func (r *Recorder) AppendRaw(raw []byte) error {
	return r.append(r.rawPath, append(append([]byte{}, raw...), '\n'))
}

func (r *Recorder) append(path string, line []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return WithFileLock(path, r.lockTimeout, func() error {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open append: %w", err)
		}
		defer func(f *os.File) {
			_ = f.Close()
		}(f)
		if _, err := f.Write(line); err != nil {
			return fmt.Errorf("write append: %w", err)
		}
		return nil
	})
}

// GeneralPath returns the path of the general log file.
func (r *Recorder) GeneralPath() string { return r.generalPath }

// RawPath returns the path of the raw payload log file.
func (r *Recorder) RawPath() string { return r.rawPath }

// TailLines returns the last n lines of the file and its total line count.
func TailLines(path string, n int) ([]string, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, 0, err
	}
	total := len(lines)
	if n > 0 && total > n {
		lines = lines[total-n:]
	}
	return lines, total, nil
}

// FileSizes reports the size in bytes of every existing path.
func FileSizes(paths ...string) map[string]int64 {
	out := make(map[string]int64, len(paths))
	for _, p := range paths {
		if st, err := os.Stat(p); err == nil {
			out[filepath.Base(p)] = st.Size()
		}
	}
	return out
}
