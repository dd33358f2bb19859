package project

import (
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"

	"pipedeck/internal/shared"
)

// Meta is the lightweight per-project metadata shown on the index page.
type Meta struct {
	Path        string   `json:"path"`
	Name        string   `json:"name,omitempty"`
	SampleCount int      `json:"sample_count"`
	Subprojects []string `json:"subprojects,omitempty"`
	Missing     bool     `json:"missing,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// Catalog lists the configured project paths with resolved metadata. Results
// are cached so the index page does not re-parse every project file on every
// hit; entries are invalidated when a selection re-resolves the file.
type Catalog struct {
	paths []string
	cache *lru.Cache[string, Meta]
}

// NewCatalog creates a catalog over the configured project paths.
func NewCatalog(paths []string) (*Catalog, error) {
	size := len(paths)
	if size < 16 {
		size = 16
	}
	cache, err := lru.New[string, Meta](size)
	if err != nil {
		return nil, err
	}
	return &Catalog{paths: paths, cache: cache}, nil
}

// Paths returns the configured project paths in config order.
func (c *Catalog) Paths() []string { return c.paths }

// List resolves metadata for every configured project. Projects that fail to
// resolve are reported as missing rather than dropped, so the operator can
// see stale entries.
func (c *Catalog) List() []Meta {
	out := make([]Meta, 0, len(c.paths))
	for _, path := range c.paths {
		out = append(out, c.lookup(path))
	}
	return out
}

// Invalidate drops the cached metadata for one path. Called after a selection
// resolves the file fresh, so the next index hit reflects edits. The path is
// normalized the same way cache keys are, so a relative or ~-prefixed
// spelling invalidates the configured entry.
func (c *Catalog) Invalidate(path string) {
	c.cache.Remove(cacheKey(path))
}

func (c *Catalog) lookup(path string) Meta {
	key := cacheKey(path)
	if meta, ok := c.cache.Get(key); ok {
		return meta
	}

	meta := Meta{Path: path}
	handle, err := Resolve(path)
	if err != nil {
		meta.Missing = true
		meta.Error = err.Error()
	} else {
		meta.Name = handle.Name()
		meta.SampleCount = handle.SampleCount()
		meta.Subprojects = handle.SubprojectNames()
	}
	c.cache.Add(key, meta)
	return meta
}

// cacheKey normalizes a project path the way [Resolve] does, so a path can
// be cached under one spelling and invalidated under another.
func cacheKey(path string) string {
	if abs, err := filepath.Abs(shared.ExpandPath(path)); err == nil {
		return abs
	}
	return path
}
