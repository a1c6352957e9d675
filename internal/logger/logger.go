// Package logger keeps a bounded in-memory ring of recent status messages.
// It is installed as a logrus hook so everything logged at Info or above
// also reaches the status bar of the web UI.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Message represents a single log message
type Message struct {
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
	Level     string    `json:"level"` // info, warning, error
}

// Logger manages in-memory log messages
type Logger struct {
	mu       sync.RWMutex
	messages []Message
	maxSize  int
	seq      uint64
	now      func() time.Time
}

// New creates a new logger with specified max message count
func New(maxSize int) *Logger {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &Logger{
		messages: make([]Message, 0, maxSize),
		maxSize:  maxSize,
		now:      time.Now,
	}
}

// Log adds a new message to the logger
func (l *Logger) Log(level, text string) {
	l.append(Message{Timestamp: l.now(), Text: text, Level: level})
}

func (l *Logger) append(msg Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.messages = append(l.messages, msg)
	l.seq++

	// Keep only the last maxSize messages
	if len(l.messages) > l.maxSize {
		l.messages = l.messages[len(l.messages)-l.maxSize:]
	}
}

// Info logs an info-level message
func (l *Logger) Info(text string) {
	l.Log("info", text)
}

// Warning logs a warning-level message
func (l *Logger) Warning(text string) {
	l.Log("warning", text)
}

// Error logs an error-level message
func (l *Logger) Error(text string) {
	l.Log("error", text)
}

// Seq returns a counter that increases with every message.
func (l *Logger) Seq() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.seq
}

// Since returns the retained messages logged after seq (oldest first) and
// the current sequence number. Messages already evicted from the ring are
// skipped.
func (l *Logger) Since(seq uint64) ([]Message, uint64) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if seq >= l.seq {
		return nil, l.seq
	}
	n := l.seq - seq
	if n > uint64(len(l.messages)) {
		n = uint64(len(l.messages))
	}
	out := make([]Message, n)
	copy(out, l.messages[uint64(len(l.messages))-n:])
	return out, l.seq
}

// GetRecent returns the most recent n messages (newest first)
func (l *Logger) GetRecent(n int) []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n > len(l.messages) {
		n = len(l.messages)
	}

	result := make([]Message, n)
	for i := 0; i < n; i++ {
		result[i] = l.messages[len(l.messages)-1-i]
	}
	return result
}

// GetAll returns all messages (newest first)
func (l *Logger) GetAll() []Message {
	l.mu.RLock()
	n := len(l.messages)
	l.mu.RUnlock()
	return l.GetRecent(n)
}

// Levels implements logrus.Hook. Debug and trace output stays out of the
// status ring.
func (l *Logger) Levels() []logrus.Level {
	return []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel, logrus.WarnLevel, logrus.InfoLevel}
}

// Fire implements logrus.Hook.
func (l *Logger) Fire(entry *logrus.Entry) error {
	text := entry.Message
	if c, ok := entry.Data["component"].(string); ok && c != "" {
		text = c + ": " + text
	}
	if err, ok := entry.Data[logrus.ErrorKey].(error); ok && err != nil {
		text += ": " + err.Error()
	}
	l.append(Message{Timestamp: entry.Time, Text: text, Level: ringLevel(entry.Level)})
	return nil
}

func ringLevel(level logrus.Level) string {
	switch {
	case level <= logrus.ErrorLevel:
		return "error"
	case level == logrus.WarnLevel:
		return "warning"
	default:
		return "info"
	}
}

// Configure sets the global logrus level and formatter and installs ring
// as a hook. An unknown level falls back to info.
func Configure(level string, verbose bool, ring *Logger) {
	Setup(logrus.StandardLogger(), os.Stderr, level, verbose, ring)
}

// Setup configures log for output to w.
func Setup(log *logrus.Logger, w io.Writer, level string, verbose bool, ring *Logger) {
	log.SetOutput(w)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	if verbose {
		lvl = logrus.DebugLevel
	}
	log.SetLevel(lvl)

	if ring != nil {
		log.AddHook(ring)
	}
}
