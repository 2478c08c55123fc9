// Package course loads the practice course catalogue.
//
// Courses live as JSON files in one directory. A file holds either a single
// course object or an array of courses. Files that fail to parse are skipped
// with a warning so one broken file never hides the rest of the catalogue.
package course

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"slices"
	"strings"
	"sync"
)

// Content is one practice sentence.
type Content struct {
	Text        string `json:"text"`
	Translation string `json:"translation,omitempty"`
}

// Course is a themed list of sentences.
type Course struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Lang        string    `json:"lang"`
	Level       string    `json:"level"`
	Icon        string    `json:"icon"`
	Description string    `json:"description,omitempty"`
	Content     []Content `json:"content"`
}

// Summary is a course without its content, as shown in listings.
type Summary struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Lang        string `json:"lang"`
	Level       string `json:"level"`
	Icon        string `json:"icon"`
	Description string `json:"description,omitempty"`
	Count       int    `json:"count"`
}

// Summary returns the listing form of c.
func (c *Course) Summary() Summary {
	return Summary{
		ID:          c.ID,
		Title:       c.Title,
		Lang:        c.Lang,
		Level:       c.Level,
		Icon:        c.Icon,
		Description: c.Description,
		Count:       len(c.Content),
	}
}

// Catalogue is an in-memory, reloadable set of courses. It is safe for
// concurrent use.
type Catalogue struct {
	fsys fs.FS

	mu      sync.RWMutex
	courses map[string]*Course
	order   []string
}

// Open loads the catalogue from dir. A missing directory yields an empty
// catalogue and a warning.
func Open(dir string) (*Catalogue, error) {
	if dir == "" {
		return New(nil)
	}
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		slog.Warn("course: directory not found, catalogue is empty", "dir", dir)
		return New(nil)
	}
	return New(os.DirFS(dir))
}

// New loads the catalogue from the root of fsys. A nil fsys yields an empty
// catalogue.
func New(fsys fs.FS) (*Catalogue, error) {
	c := &Catalogue{fsys: fsys}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload re-reads every *.json file. Only a failure to list the directory is
// returned; broken files are logged and skipped.
func (c *Catalogue) Reload() error {
	courses := map[string]*Course{}
	if c.fsys != nil {
		files, err := fs.Glob(c.fsys, "*.json")
		if err != nil {
			return fmt.Errorf("course: list files: %w", err)
		}
		slices.Sort(files)
		for _, name := range files {
			parsed, err := readFile(c.fsys, name)
			if err != nil {
				slog.Warn("course: skipping file", "file", name, "err", err)
				continue
			}
			for i := range parsed {
				co := &parsed[i]
				if co.ID == "" {
					slog.Warn("course: skipping course without id", "file", name, "title", co.Title)
					continue
				}
				if _, dup := courses[co.ID]; dup {
					slog.Warn("course: duplicate id, keeping first", "file", name, "id", co.ID)
					continue
				}
				courses[co.ID] = co
			}
		}
	}

	order := make([]string, 0, len(courses))
	for id := range courses {
		order = append(order, id)
	}
	slices.Sort(order)

	c.mu.Lock()
	c.courses, c.order = courses, order
	c.mu.Unlock()
	slog.Info("course: catalogue loaded", "courses", len(order))
	return nil
}

// readFile parses one file holding a course or an array of courses.
func readFile(fsys fs.FS, name string) ([]Course, error) {
	data, err := fs.ReadFile(fsys, path.Clean(name))
	if err != nil {
		return nil, err
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var list []Course
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("decode course list: %w", err)
		}
		return list, nil
	}
	var one Course
	if err := json.Unmarshal(data, &one); err != nil {
		return nil, fmt.Errorf("decode course: %w", err)
	}
	return []Course{one}, nil
}

// List returns every course summary sorted by id.
func (c *Catalogue) List() []Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Summary, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.courses[id].Summary())
	}
	return out
}

// Get returns the course with the given id.
func (c *Catalogue) Get(id string) (Course, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	co, ok := c.courses[id]
	if !ok {
		return Course{}, false
	}
	out := *co
	out.Content = slices.Clone(co.Content)
	return out, true
}

// Len returns the number of loaded courses.
func (c *Catalogue) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}
