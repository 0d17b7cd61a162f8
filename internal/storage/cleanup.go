package storage

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Cleaner removes or truncates artifacts older than the configured
// thresholds. It is the only component allowed to delete persisted records,
// and only when explicitly invoked (endpoint or cron).
type Cleaner struct {
	DataDir    string
	HistoryDir string
	LogFiles   []string

	LockMaxAge    time.Duration // stale .lock files, default 1h
	LogMaxAge     time.Duration // rotate logs older than this, default 7d
	BackupMaxAge  time.Duration // delete .backup files older than this, default 30d
	HistoryMaxAge time.Duration // delete history files older than this, default 30d
	KeepLines     int           // lines kept when a log is rotated, default 1000
}

// Result counts what a cleanup run touched.
type Result struct {
	LocksRemoved   int `json:"locks_removed"`
	LogsRotated    int `json:"logs_rotated"`
	BackupsRemoved int `json:"backups_removed"`
	HistoryRemoved int `json:"history_removed"`
}

// Total is the overall number of removed or truncated artifacts.
func (r Result) Total() int {
	return r.LocksRemoved + r.LogsRotated + r.BackupsRemoved + r.HistoryRemoved
}

func (c *Cleaner) defaults() {
	if c.LockMaxAge == 0 {
		c.LockMaxAge = time.Hour
	}
	if c.LogMaxAge == 0 {
		c.LogMaxAge = 7 * 24 * time.Hour
	}
	if c.BackupMaxAge == 0 {
		c.BackupMaxAge = 30 * 24 * time.Hour
	}
	if c.HistoryMaxAge == 0 {
		c.HistoryMaxAge = 30 * 24 * time.Hour
	}
	if c.KeepLines == 0 {
		c.KeepLines = 1000
	}
}

// Run performs one cleanup pass relative to now. Items newer than their
// threshold are never touched.
func (c *Cleaner) Run(now time.Time) (Result, error) {
	c.defaults()
	var res Result

	// Stale lock files left behind by crashed writers.
	if items, err := os.ReadDir(c.DataDir); err == nil {
		for _, it := range items {
			if it.IsDir() || !strings.HasSuffix(it.Name(), ".lock") {
				continue
			}
			p := filepath.Join(c.DataDir, it.Name())
			if olderThan(p, now, c.LockMaxAge) {
				if err := os.Remove(p); err == nil {
					res.LocksRemoved++
				}
			}
		}
	}

	// Old log files: back up, then keep only the last KeepLines lines.
	for _, p := range c.LogFiles {
		if !olderThan(p, now, c.LogMaxAge) {
			continue
		}
		if err := c.rotate(p, now); err != nil {
			return res, fmt.Errorf("rotate %s: %w", p, err)
		}
		res.LogsRotated++
	}

	// Backups past retention.
	if items, err := os.ReadDir(c.DataDir); err == nil {
		for _, it := range items {
			if it.IsDir() || !strings.Contains(it.Name(), ".backup.") {
				continue
			}
			p := filepath.Join(c.DataDir, it.Name())
			if olderThan(p, now, c.BackupMaxAge) {
				if err := os.Remove(p); err == nil {
					res.BackupsRemoved++
				}
			}
		}
	}

	// Requester histories past retention.
	if c.HistoryDir != "" {
		if items, err := os.ReadDir(c.HistoryDir); err == nil {
			for _, it := range items {
				if it.IsDir() || !strings.HasSuffix(it.Name(), ".json") {
					continue
				}
				p := filepath.Join(c.HistoryDir, it.Name())
				if olderThan(p, now, c.HistoryMaxAge) {
					if err := os.Remove(p); err == nil {
						res.HistoryRemoved++
					}
				}
			}
		}
	}

	return res, nil
}

func (c *Cleaner) rotate(path string, now time.Time) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	backup := fmt.Sprintf("%s.backup.%s", path, now.Format("20060102"))
	if err := os.WriteFile(backup, data, 0o644); err != nil {
		return err
	}

	var lines []string
	sc := bufio.NewScanner(strings.NewReader(string(data)))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if len(lines) > c.KeepLines {
		lines = lines[len(lines)-c.KeepLines:]
	}
	out := strings.Join(lines, "\n")
	if out != "" {
		out += "\n"
	}
	return os.WriteFile(path, []byte(out), 0o644)
}

func olderThan(path string, now time.Time, age time.Duration) bool {
	st, err := os.Stat(path)
	if err != nil {
		return false
	}
	return now.Sub(st.ModTime()) > age
}
