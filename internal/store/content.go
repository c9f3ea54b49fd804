package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const (
	// contentTTL bounds how long extracted text stays in memory after its
	// last use.
	contentTTL = 30 * time.Minute
	// contentSweep is the expired-entry sweep interval.
	contentSweep = 10 * time.Minute
	// overflowThreshold is the character count above which extracted text
	// goes to a file on disk instead of the document record.
	overflowThreshold = 100_000
)

// ContentCache keeps extracted document text available for re-ingestion
// without inflating documents.json. Small texts live inline on the document
// record; large texts spill to content_<id>.txt files under the metadata
// directory, fronted by an expiring in-memory cache.
type ContentCache struct {
	dir   string
	cache *gocache.Cache
	log   *slog.Logger
}

// NewContentCache returns a cache backed by dir.
func NewContentCache(dir string, log *slog.Logger) *ContentCache {
	if log == nil {
		log = slog.Default()
	}
	return &ContentCache{
		dir:   dir,
		cache: gocache.New(contentTTL, contentSweep),
		log:   log,
	}
}

func (c *ContentCache) overflowPath(docID string) string {
	return filepath.Join(c.dir, "content_"+docID+".txt")
}

// Put stores text for the document. Returns the overflow file path when the
// text was spilled to disk, or "" when it fits inline.
func (c *ContentCache) Put(docID, text string) (string, error) {
	c.cache.Set(docID, text, contentTTL)
	if len(text) <= overflowThreshold {
		return "", nil
	}
	path := c.overflowPath(docID)
	if err := os.WriteFile(path, []byte(text), 0o600); err != nil {
		return "", fmt.Errorf("store: write overflow %s: %w", filepath.Base(path), err)
	}
	return path, nil
}

// Get returns the document's text, reading it back from the record or the
// overflow file as needed.
func (c *ContentCache) Get(doc Document) (string, error) {
	if v, ok := c.cache.Get(doc.ID); ok {
		return v.(string), nil
	}
	if doc.Content != "" {
		c.cache.Set(doc.ID, doc.Content, contentTTL)
		return doc.Content, nil
	}
	if doc.ContentOverflowFile == "" {
		return "", fmt.Errorf("store: document %s has no stored content", doc.ID)
	}
	data, err := os.ReadFile(doc.ContentOverflowFile)
	if err != nil {
		return "", fmt.Errorf("store: read overflow for document %s: %w", doc.ID, err)
	}
	text := string(data)
	c.cache.Set(doc.ID, text, contentTTL)
	return text, nil
}

// Drop evicts the document's text and removes its overflow file if present.
func (c *ContentCache) Drop(docID string) {
	c.cache.Delete(docID)
	path := c.overflowPath(docID)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		c.log.Warn("overflow file not removed",
			slog.String("file", path), slog.String("error", err.Error()))
	}
}
