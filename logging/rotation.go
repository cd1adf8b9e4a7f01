package logging

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

const rotationDateLayout = "2006-01-02"

// dailyRotatingWriter rotates to a new file named by local date and, when
// MaxDays > 0, prunes files older than that on each rotation. The actual
// per-file write and size-based rollover are delegated to lumberjack; this
// type only decides *which* file lumberjack is currently pointed at.
type dailyRotatingWriter struct {
	base *lumberjack.Logger
	dir  string

	mu          sync.Mutex
	currentDate string
}

func (w *dailyRotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	today := time.Now().Format(rotationDateLayout)
	if today != w.currentDate {
		w.currentDate = today
		// lumberjack keeps writing to its open file until it is closed, so
		// close it to make the next Write open the new day's file.
		_ = w.base.Close()
		w.base.Filename = filepath.Join(w.dir, "qerrors-"+today+".log")
		w.prune()
	}
	w.mu.Unlock()

	return w.base.Write(p)
}

func (w *dailyRotatingWriter) Sync() error {
	return nil
}

// prune deletes rotated log files older than MaxDays. Must be called with
// w.mu held.
func (w *dailyRotatingWriter) prune() {
	if w.base.MaxAge <= 0 {
		return
	}
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}

	cutoff := time.Now().AddDate(0, 0, -w.base.MaxAge)
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "qerrors-") || !strings.HasSuffix(e.Name(), ".log") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		dateStr := strings.TrimSuffix(strings.TrimPrefix(name, "qerrors-"), ".log")
		t, err := time.Parse(rotationDateLayout, dateStr)
		if err != nil {
			continue
		}
		if t.Before(cutoff) {
			_ = os.Remove(filepath.Join(w.dir, name))
		}
	}
}
