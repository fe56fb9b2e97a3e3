package history

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MeKo-Tech/ocrstudio/internal/config"
	"github.com/google/uuid"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Store is a file-backed history of completed runs. One JSON document per run,
// entries immutable after write, oldest runs pruned past the configured cap.
type Store struct {
	dir        string
	maxEntries int

	mu      sync.Mutex
	entries []Entry // most-recent first
}

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM, extension.Table))

// NewStore opens (or creates) the history directory and indexes existing runs.
func NewStore(cfg config.HistoryConfig) (*Store, error) {
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	s := &Store{
		dir:        cfg.Dir,
		maxEntries: cfg.MaxEntries,
	}
	if err := s.loadIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

// Save persists a completed run and returns its id.
func (s *Store) Save(result *Result) (string, error) {
	id := uuid.NewString()
	result.HistoryID = id
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now().UTC()
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode history entry: %w", err)
	}
	if err := os.WriteFile(s.path(id), data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write history entry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append([]Entry{{
		ID:        id,
		FileName:  result.FileName,
		CreatedAt: result.CreatedAt,
		Mode:      result.Mode,
		Pages:     len(result.Pages),
		IsPDF:     result.IsPDF,
	}}, s.entries...)
	s.pruneLocked()

	return id, nil
}

// List returns history summaries, most-recent first.
func (s *Store) List() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Get loads the full result for a history id.
func (s *Store) Get(id string) (*Result, error) {
	if !validID(id) {
		return nil, &NotFoundError{ID: id}
	}
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &NotFoundError{ID: id}
		}
		return nil, fmt.Errorf("failed to read history entry: %w", err)
	}

	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode history entry %s: %w", id, err)
	}
	return &result, nil
}

// Download renders a history entry for export. Supported formats: "md" and
// "html".
func (s *Store) Download(id, format string) ([]byte, string, error) {
	result, err := s.Get(id)
	if err != nil {
		return nil, "", err
	}

	md := renderMarkdown(result)
	switch format {
	case "", "md":
		return []byte(md), "text/markdown; charset=utf-8", nil
	case "html":
		var buf bytes.Buffer
		if err := markdown.Convert([]byte(md), &buf); err != nil {
			return nil, "", fmt.Errorf("failed to render html: %w", err)
		}
		return buf.Bytes(), "text/html; charset=utf-8", nil
	default:
		return nil, "", fmt.Errorf("unsupported download format: %s", format)
	}
}

func renderMarkdown(result *Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", result.FileName)
	fmt.Fprintf(&b, "- Mode: %s\n", result.Mode)
	fmt.Fprintf(&b, "- Recognized: %s\n", result.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "- Pages: %d\n\n", len(result.Pages))
	b.WriteString(result.Text)
	b.WriteString("\n")
	return b.String()
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// validID guards against path traversal through crafted ids.
func validID(id string) bool {
	return id != "" && !strings.ContainsAny(id, "/\\.")
}

func (s *Store) loadIndex() error {
	files, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to scan history directory: %w", err)
	}

	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(f.Name(), ".json")
		result, err := s.Get(id)
		if err != nil {
			slog.Warn("Skipping unreadable history entry", "file", f.Name(), "error", err)
			continue
		}
		s.entries = append(s.entries, Entry{
			ID:        id,
			FileName:  result.FileName,
			CreatedAt: result.CreatedAt,
			Mode:      result.Mode,
			Pages:     len(result.Pages),
			IsPDF:     result.IsPDF,
		})
	}

	sort.Slice(s.entries, func(i, j int) bool {
		return s.entries[i].CreatedAt.After(s.entries[j].CreatedAt)
	})
	s.pruneLocked()
	return nil
}

// pruneLocked drops entries past the cap, deleting their files. Callers hold
// s.mu (or run before the store is shared).
func (s *Store) pruneLocked() {
	if s.maxEntries <= 0 || len(s.entries) <= s.maxEntries {
		return
	}
	for _, stale := range s.entries[s.maxEntries:] {
		if err := os.Remove(s.path(stale.ID)); err != nil && !os.IsNotExist(err) {
			slog.Warn("Failed to prune history entry", "id", stale.ID, "error", err)
		}
	}
	s.entries = s.entries[:s.maxEntries]
}
