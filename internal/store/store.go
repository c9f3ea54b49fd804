package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Collection file names under the metadata directory.
const (
	notebooksFile = "notebooks.json"
	documentsFile = "documents.json"
	chatFile      = "chat_history.json"
)

// ErrNotFound reports an unknown notebook or document id.
var ErrNotFound = errors.New("store: not found")

// Store holds the three collections in memory behind a mutex and mirrors
// every mutation to disk. All accessors return copies — callers never see
// the internal maps.
type Store struct {
	// mu guards the maps below and serialises saves.
	mu sync.RWMutex
	// dir is the metadata directory holding the JSON files.
	dir string
	// notebooks maps notebook id to record.
	notebooks map[string]*Notebook
	// documents maps document id to record.
	documents map[string]*Document
	// chats maps notebook id to its append-only message history.
	chats map[string][]ChatMessage
	// log reports load-time recoveries.
	log *slog.Logger
}

// Open loads the three collections from dir, creating the directory if
// needed. Load is tolerant: a missing file yields an empty collection, and a
// malformed file is logged and treated as empty — starting up with data loss
// beats not starting up.
func Open(dir string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("store: create %s: %w", dir, err)
	}

	s := &Store{
		dir:       dir,
		notebooks: make(map[string]*Notebook),
		documents: make(map[string]*Document),
		chats:     make(map[string][]ChatMessage),
		log:       log,
	}

	var notebooks []*Notebook
	if loadCollection(filepath.Join(dir, notebooksFile), &notebooks, log) {
		for _, nb := range notebooks {
			s.notebooks[nb.ID] = nb
		}
	}
	var documents []*Document
	if loadCollection(filepath.Join(dir, documentsFile), &documents, log) {
		for _, doc := range documents {
			s.documents[doc.ID] = doc
		}
	}
	loadCollection(filepath.Join(dir, chatFile), &s.chats, log)
	if s.chats == nil {
		s.chats = make(map[string][]ChatMessage)
	}

	return s, nil
}

// loadCollection reads one JSON file into out. Returns false when the file
// was absent or unreadable; malformed content is logged and discarded.
func loadCollection(path string, out any, log *slog.Logger) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("state file unreadable, starting empty",
				slog.String("file", path), slog.String("error", err.Error()))
		}
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		log.Warn("state file malformed, starting empty",
			slog.String("file", path), slog.String("error", err.Error()))
		return false
	}
	return true
}

// Dir returns the metadata directory.
func (s *Store) Dir() string { return s.dir }

// CreateNotebook persists a new notebook record.
func (s *Store) CreateNotebook(nb Notebook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notebooks[nb.ID] = &nb
	return s.saveNotebooks()
}

// GetNotebook returns a copy of the notebook, or ErrNotFound.
func (s *Store) GetNotebook(id string) (Notebook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	nb, ok := s.notebooks[id]
	if !ok {
		return Notebook{}, fmt.Errorf("notebook %s: %w", id, ErrNotFound)
	}
	return *nb, nil
}

// ListNotebooks returns all notebooks ordered by creation time.
func (s *Store) ListNotebooks() []Notebook {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Notebook, 0, len(s.notebooks))
	for _, nb := range s.notebooks {
		out = append(out, *nb)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// UpdateNotebook applies mutate to the notebook under the lock and persists
// the collection. Returns the updated copy.
func (s *Store) UpdateNotebook(id string, mutate func(*Notebook)) (Notebook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nb, ok := s.notebooks[id]
	if !ok {
		return Notebook{}, fmt.Errorf("notebook %s: %w", id, ErrNotFound)
	}
	mutate(nb)
	if err := s.saveNotebooks(); err != nil {
		return Notebook{}, err
	}
	return *nb, nil
}

// DeleteNotebook removes the notebook, its documents, and its chat history.
// The removed document records are returned so the caller can clean up
// engine-side vectors and overflow files.
func (s *Store) DeleteNotebook(id string) ([]Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notebooks[id]; !ok {
		return nil, fmt.Errorf("notebook %s: %w", id, ErrNotFound)
	}
	delete(s.notebooks, id)

	var removed []Document
	for docID, doc := range s.documents {
		if doc.NotebookID == id {
			removed = append(removed, *doc)
			delete(s.documents, docID)
		}
	}
	delete(s.chats, id)

	if err := s.saveNotebooks(); err != nil {
		return nil, err
	}
	if err := s.saveDocuments(); err != nil {
		return nil, err
	}
	return removed, s.saveChats()
}

// AddDocument persists a new document record and increments the owning
// notebook's document count.
func (s *Store) AddDocument(doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	nb, ok := s.notebooks[doc.NotebookID]
	if !ok {
		return fmt.Errorf("notebook %s: %w", doc.NotebookID, ErrNotFound)
	}
	s.documents[doc.ID] = &doc
	nb.DocumentCount++
	if err := s.saveDocuments(); err != nil {
		return err
	}
	return s.saveNotebooks()
}

// GetDocument returns a copy of the document, or ErrNotFound.
func (s *Store) GetDocument(id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[id]
	if !ok {
		return Document{}, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return *doc, nil
}

// DocumentsByNotebook returns the notebook's documents ordered by upload time.
func (s *Store) DocumentsByNotebook(notebookID string) []Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Document
	for _, doc := range s.documents {
		if doc.NotebookID == notebookID {
			out = append(out, *doc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadedAt.Before(out[j].UploadedAt) })
	return out
}

// UpdateDocument applies mutate to the document under the lock and persists
// the collection. Returns the updated copy.
func (s *Store) UpdateDocument(id string, mutate func(*Document)) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok {
		return Document{}, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	mutate(doc)
	if err := s.saveDocuments(); err != nil {
		return Document{}, err
	}
	return *doc, nil
}

// DeleteDocument removes the document and decrements the owning notebook's
// document count. Returns the removed copy.
func (s *Store) DeleteDocument(id string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok {
		return Document{}, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	delete(s.documents, id)
	if nb, ok := s.notebooks[doc.NotebookID]; ok && nb.DocumentCount > 0 {
		nb.DocumentCount--
	}
	if err := s.saveDocuments(); err != nil {
		return Document{}, err
	}
	return *doc, s.saveNotebooks()
}

// AppendChatMessage appends one message to the notebook's history.
func (s *Store) AppendChatMessage(notebookID string, msg ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notebooks[notebookID]; !ok {
		return fmt.Errorf("notebook %s: %w", notebookID, ErrNotFound)
	}
	s.chats[notebookID] = append(s.chats[notebookID], msg)
	return s.saveChats()
}

// ChatHistory returns a copy of the notebook's message history, oldest first.
func (s *Store) ChatHistory(notebookID string) []ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.chats[notebookID]
	out := make([]ChatMessage, len(history))
	copy(out, history)
	return out
}

// ClearChatHistory removes the notebook's message history.
func (s *Store) ClearChatHistory(notebookID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notebooks[notebookID]; !ok {
		return fmt.Errorf("notebook %s: %w", notebookID, ErrNotFound)
	}
	delete(s.chats, notebookID)
	return s.saveChats()
}

// saveNotebooks, saveDocuments, and saveChats rewrite one collection each.
// Callers must hold mu.

func (s *Store) saveNotebooks() error {
	out := make([]*Notebook, 0, len(s.notebooks))
	for _, nb := range s.notebooks {
		out = append(out, nb)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return writeJSON(filepath.Join(s.dir, notebooksFile), out)
}

func (s *Store) saveDocuments() error {
	out := make([]*Document, 0, len(s.documents))
	for _, doc := range s.documents {
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadedAt.Before(out[j].UploadedAt) })
	return writeJSON(filepath.Join(s.dir, documentsFile), out)
}

func (s *Store) saveChats() error {
	return writeJSON(filepath.Join(s.dir, chatFile), s.chats)
}

// writeJSON marshals v and replaces path atomically: write to a temp file in
// the same directory, then rename over the target.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal %s: %w", filepath.Base(path), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("store: temp file for %s: %w", filepath.Base(path), err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("store: write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store: close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store: replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
