package logging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CategoryKey is the attribute carrying a record's category.
const CategoryKey = "category"

// DefaultBufferSize is how many entries the log buffer keeps.
const DefaultBufferSize = 100

// Entry is one retained log record.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Severity  string    `json:"severity"`
	Category  string    `json:"category"`
	Message   string    `json:"message"`
}

// Buffer keeps the most recent log entries in memory.
type Buffer struct {
	mu      sync.RWMutex
	entries []Entry
	size    int
}

// NewBuffer creates a buffer retaining at most size entries.
func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Buffer{
		entries: make([]Entry, 0, size),
		size:    size,
	}
}

// Add appends an entry, evicting the oldest when full.
func (b *Buffer) Add(e Entry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.entries) == b.size {
		copy(b.entries, b.entries[1:])
		b.entries = b.entries[:b.size-1]
	}
	b.entries = append(b.entries, e)
}

// Entries returns a copy of the retained entries, oldest first.
func (b *Buffer) Entries() []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Clear drops every retained entry.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = b.entries[:0]
}

// Handler wraps next so every handled record is also retained in b.
func (b *Buffer) Handler(next slog.Handler) slog.Handler {
	return &bufferHandler{buf: b, next: next}
}

type bufferHandler struct {
	buf      *Buffer
	next     slog.Handler
	category string
}

func (h *bufferHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *bufferHandler) Handle(ctx context.Context, r slog.Record) error {
	category := h.category
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == CategoryKey {
			category = a.Value.String()
			return false
		}
		return true
	})
	if category == "" {
		category = CategorySystem
	}

	h.buf.Add(Entry{
		Timestamp: r.Time,
		Severity:  severity(r.Level),
		Category:  category,
		Message:   r.Message,
	})

	return h.next.Handle(ctx, r)
}

func (h *bufferHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	category := h.category
	for _, a := range attrs {
		if a.Key == CategoryKey {
			category = a.Value.String()
		}
	}
	return &bufferHandler{buf: h.buf, next: h.next.WithAttrs(attrs), category: category}
}

func (h *bufferHandler) WithGroup(name string) slog.Handler {
	return &bufferHandler{buf: h.buf, next: h.next.WithGroup(name), category: h.category}
}

func severity(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "error"
	case level >= slog.LevelWarn:
		return "warn"
	default:
		return "info"
	}
}
