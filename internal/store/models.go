// Package store is the durable, file-backed repository for notebook,
// document, and chat-history records. Three JSON collections live under the
// metadata directory and are loaded once at startup; every mutating
// operation rewrites the affected collection through a temp-file rename so a
// crash mid-write never leaves a torn file behind.
package store

import (
	"time"

	"github.com/notebookd/notebookd/internal/provider"
)

// DocumentStatus is the lifecycle state of an ingested document.
type DocumentStatus string

const (
	// StatusProcessing means the document is queued or being indexed.
	StatusProcessing DocumentStatus = "processing"
	// StatusCompleted means the document is indexed and queryable.
	StatusCompleted DocumentStatus = "completed"
	// StatusFailed means ingestion failed; the document may be retried.
	StatusFailed DocumentStatus = "failed"
)

// SummaryCache is a memoized corpus-wide summary, valid only while the
// notebook's DocsFingerprint matches the fingerprint recomputed from the
// current completed-document set.
type SummaryCache struct {
	// Answer is the cached summary text.
	Answer string `json:"answer"`
	// Mode is the retrieval mode the summary was produced with.
	Mode string `json:"mode"`
	// Fingerprint is the document-set fingerprint at generation time.
	Fingerprint string `json:"fingerprint"`
}

// Notebook is one per-workspace knowledge index.
type Notebook struct {
	// ID is the unique notebook identifier.
	ID string `json:"id"`
	// Name is the user-visible notebook name.
	Name string `json:"name"`
	// Description is an optional free-text description.
	Description string `json:"description,omitempty"`
	// CreatedAt is when the notebook was created.
	CreatedAt time.Time `json:"created_at"`
	// DocumentCount tracks the number of non-deleted documents. Incremented
	// at upload, decremented at delete.
	DocumentCount int `json:"document_count"`
	// LLMProvider is the declared completion backend for this notebook.
	LLMProvider provider.RawConfig `json:"llm_provider"`
	// EmbeddingProvider is the declared embedding backend for this notebook.
	EmbeddingProvider provider.RawConfig `json:"embedding_provider"`
	// SummaryCache is the memoized corpus summary, if any.
	SummaryCache *SummaryCache `json:"summary_cache,omitempty"`
	// DocsFingerprint is the completed-document-set fingerprint the cached
	// summary was computed against.
	DocsFingerprint string `json:"docs_fingerprint,omitempty"`
}

// Document is one uploaded file's ingestion record.
type Document struct {
	// ID is the unique document identifier.
	ID string `json:"id"`
	// NotebookID is the owning notebook.
	NotebookID string `json:"notebook_id"`
	// Filename is the original upload filename.
	Filename string `json:"filename"`
	// UploadedAt is when the document was uploaded.
	UploadedAt time.Time `json:"uploaded_at"`
	// Status is the current lifecycle state.
	Status DocumentStatus `json:"status"`
	// FilePath is where the raw upload was stored.
	FilePath string `json:"file_path"`
	// Content is the extracted text. Cleared after successful ingestion to
	// save space; retained after failure so a retry does not need re-upload.
	Content string `json:"content,omitempty"`
	// ContentOverflowFile is set when the extracted text exceeded the
	// in-memory threshold and was additionally persisted to its own file.
	ContentOverflowFile string `json:"content_overflow_file,omitempty"`
	// EngineRef is the opaque id under which the external RAG engine holds
	// this document's vectors.
	EngineRef string `json:"engine_ref,omitempty"`
	// Error is the user-facing failure message, set only in StatusFailed.
	Error string `json:"error,omitempty"`
	// ProcessedAt is when ingestion last started.
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	// CompletedAt is when ingestion succeeded.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// FailedAt is when ingestion last failed.
	FailedAt *time.Time `json:"failed_at,omitempty"`
}

// MessageRole identifies the author of a chat message.
type MessageRole string

const (
	// RoleUser is a message sent by the human operator.
	RoleUser MessageRole = "user"
	// RoleAssistant is a message produced by the query orchestrator.
	RoleAssistant MessageRole = "assistant"
)

// Citation points a chat answer at one source document.
type Citation struct {
	// Filename is the original upload filename.
	Filename string `json:"filename"`
	// FilePath is the stored path of the raw upload.
	FilePath string `json:"file_path"`
	// Title is the humanized document title shown to the user.
	Title string `json:"title"`
}

// ChatMessage is a single turn in a notebook's conversation. History is
// append-only per notebook.
type ChatMessage struct {
	// Role is the author of the message.
	Role MessageRole `json:"role"`
	// Content is the text of the message.
	Content string `json:"content"`
	// Timestamp is when the message was appended.
	Timestamp time.Time `json:"timestamp"`
	// Citations are the sources backing an assistant message.
	Citations []Citation `json:"citations,omitempty"`
}
