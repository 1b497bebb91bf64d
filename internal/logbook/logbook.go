// Package logbook is the user-facing journal of toasts. Every notice the TUI
// shows is appended to .fieldops/logs/journal.log as one line; the log panel
// renders the most recent lines from an in-memory window that is seeded from
// the file when it is opened.
package logbook

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level is the kind of toast.
type Level string

const (
	LevelSuccess Level = "SUCCESS"
	LevelInfo    Level = "INFO"
	LevelError   Level = "ERROR"
)

// window is how many recent lines are kept in memory for Tail.
const window = 64

// Logbook appends toasts to a journal file.
type Logbook struct {
	path string
	now  func() time.Time

	mu     sync.Mutex
	recent []string
	total  int
}

// New opens the journal at path, creating its directory, and loads the
// tail of any earlier session.
func New(path string) (*Logbook, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	l := &Logbook{path: path, now: time.Now}
	if err := l.load(); err != nil {
		return nil, fmt.Errorf("logbook: read %s: %w", path, err)
	}
	return l, nil
}

func (l *Logbook) load() error {
	file, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer file.Close()
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		l.remember(scanner.Text())
	}
	return scanner.Err()
}

func (l *Logbook) remember(line string) {
	l.total++
	l.recent = append(l.recent, line)
	if len(l.recent) > window {
		l.recent = append(l.recent[:0], l.recent[len(l.recent)-window:]...)
	}
}

// Path is the journal file.
func (l *Logbook) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Append records one toast as "HH:MM:SS LEVEL message". Whitespace in the
// message, newlines included, is folded to single spaces. A failed file
// write still keeps the line in the panel.
func (l *Logbook) Append(level Level, message string) {
	if l == nil {
		return
	}
	line := fmt.Sprintf("%s %-7s %s",
		l.now().Format("15:04:05"),
		string(level),
		strings.Join(strings.Fields(message), " "),
	)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.remember(line)
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer file.Close()
	_, _ = file.WriteString(line + "\n")
}

// Tail returns up to n of the latest lines, oldest first, and how many
// lines the journal holds in total.
func (l *Logbook) Tail(n int) ([]string, int) {
	if l == nil || n <= 0 {
		return nil, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.recent) == 0 {
		return nil, l.total
	}
	start := 0
	if len(l.recent) > n {
		start = len(l.recent) - n
	}
	return append([]string(nil), l.recent[start:]...), l.total
}

func (l *Logbook) Success(format string, args ...any) {
	l.Append(LevelSuccess, fmt.Sprintf(format, args...))
}

func (l *Logbook) Info(format string, args ...any) {
	l.Append(LevelInfo, fmt.Sprintf(format, args...))
}

func (l *Logbook) Error(format string, args ...any) {
	l.Append(LevelError, fmt.Sprintf(format, args...))
}
