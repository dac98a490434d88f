package statestore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// RecordTTL is how long persisted resume state stays loadable. State older
// than this is treated as absent: the server side has swept the temp chunks
// by then anyway.
const RecordTTL = 24 * time.Hour

// Store persists client resume state as JSON files in a state directory,
// one file per record, namespaced by a derived identity key. Single-writer:
// one process owns one upload.
type Store struct {
	dir string
}

func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create state dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// IdentityKey derives the resume-state namespace for a file. Name, size and
// modification time together identify "the same file" for resume matching
// only; two uploads of one file still create independent sessions.
func IdentityKey(name string, size int64, modTime time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d", name, size, modTime.UnixNano())))
	return hex.EncodeToString(sum[:16])
}

// SessionRecord is the persisted view of one upload session
type SessionRecord struct {
	UploadID        string    `json:"upload_id"`
	FileName        string    `json:"file_name"`
	TotalBytes      int64     `json:"total_bytes"`
	Transport       string    `json:"transport"`            // resumable | chunked
	FrameSize       int64     `json:"frame_size,omitempty"` // resumable only
	BytesUploaded   int64     `json:"bytes_uploaded"`
	Phase           string    `json:"phase"`
	DestinationPath string    `json:"destination_path"`
	CreatedAt       time.Time `json:"created_at"`
}

// ChunkRecord is one persisted chunk descriptor
type ChunkRecord struct {
	Index      int    `json:"index"`
	Start      int64  `json:"start"`
	End        int64  `json:"end"`
	Size       int64  `json:"size"`
	Uploaded   bool   `json:"uploaded"`
	RemotePath string `json:"remote_path,omitempty"`
}

// ChunkSetRecord is the persisted descriptor set of a chunked upload. The
// whole set is rewritten after every successful chunk, so a crash loses at
// most the one in-flight chunk.
type ChunkSetRecord struct {
	UploadID   string        `json:"upload_id"`
	TotalBytes int64         `json:"total_bytes"`
	ChunkSize  int64         `json:"chunk_size"`
	Chunks     []ChunkRecord `json:"chunks"`
	CreatedAt  time.Time     `json:"created_at"`
}

// ModuleRecord is one uploaded module inside a pending submission
type ModuleRecord struct {
	Title           string             `json:"title"`
	VideoBucket     string             `json:"video_bucket"`
	VideoPath       string             `json:"video_path"`
	ManifestID      string             `json:"manifest_id,omitempty"`
	DurationSeconds int64              `json:"duration_seconds"`
	Attachments     []AttachmentRecord `json:"attachments,omitempty"`
}

type AttachmentRecord struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// PendingSubmissionRecord is written after all uploads of a batch succeed
// and before finalize is called. It makes finalize replayable without
// re-uploading anything.
type PendingSubmissionRecord struct {
	BatchID     string         `json:"batch_id"`
	CourseTitle string         `json:"course_title"`
	Email       string         `json:"email"`
	Modules     []ModuleRecord `json:"modules"`
	LastError   string         `json:"last_error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

func (s *Store) path(kind, key string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%s.json", kind, key))
}

func (s *Store) save(kind, key string, record interface{}) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s record: %w", kind, err)
	}

	// Write-then-rename so a crash never leaves a torn record
	tmp := s.path(kind, key) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s record: %w", kind, err)
	}
	if err := os.Rename(tmp, s.path(kind, key)); err != nil {
		return fmt.Errorf("failed to commit %s record: %w", kind, err)
	}
	return nil
}

// load reads a record; (false, nil) means no usable record exists. Expired
// or unreadable records are dropped and reported absent.
func (s *Store) load(kind, key string, record interface{}, createdAt func() time.Time) (bool, error) {
	data, err := os.ReadFile(s.path(kind, key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read %s record: %w", kind, err)
	}

	if err := json.Unmarshal(data, record); err != nil {
		_ = os.Remove(s.path(kind, key))
		return false, nil
	}

	if time.Since(createdAt()) > RecordTTL {
		_ = os.Remove(s.path(kind, key))
		return false, nil
	}
	return true, nil
}

func (s *Store) clear(kind, key string) error {
	err := os.Remove(s.path(kind, key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *Store) SaveSession(key string, record *SessionRecord) error {
	return s.save("session", key, record)
}

func (s *Store) LoadSession(key string) (*SessionRecord, bool, error) {
	var record SessionRecord
	ok, err := s.load("session", key, &record, func() time.Time { return record.CreatedAt })
	if !ok || err != nil {
		return nil, false, err
	}
	return &record, true, nil
}

func (s *Store) ClearSession(key string) error {
	return s.clear("session", key)
}

func (s *Store) SaveChunkSet(key string, record *ChunkSetRecord) error {
	return s.save("chunks", key, record)
}

// LoadChunkSet returns the persisted descriptor set, or absent when the
// stored set does not match the file's current size.
func (s *Store) LoadChunkSet(key string, totalBytes int64) (*ChunkSetRecord, bool, error) {
	var record ChunkSetRecord
	ok, err := s.load("chunks", key, &record, func() time.Time { return record.CreatedAt })
	if !ok || err != nil {
		return nil, false, err
	}
	if record.TotalBytes != totalBytes {
		_ = s.clear("chunks", key)
		return nil, false, nil
	}
	return &record, true, nil
}

func (s *Store) ClearChunkSet(key string) error {
	return s.clear("chunks", key)
}

func (s *Store) SavePendingSubmission(record *PendingSubmissionRecord) error {
	return s.save("pending", record.BatchID, record)
}

func (s *Store) LoadPendingSubmission(batchID string) (*PendingSubmissionRecord, bool, error) {
	var record PendingSubmissionRecord
	ok, err := s.load("pending", batchID, &record, func() time.Time { return record.CreatedAt })
	if !ok || err != nil {
		return nil, false, err
	}
	return &record, true, nil
}

func (s *Store) ClearPendingSubmission(batchID string) error {
	return s.clear("pending", batchID)
}

// ListPendingSubmissions returns every replayable submission in the store
func (s *Store) ListPendingSubmissions() ([]PendingSubmissionRecord, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "pending_*.json"))
	if err != nil {
		return nil, err
	}

	records := make([]PendingSubmissionRecord, 0, len(matches))
	for _, match := range matches {
		data, err := os.ReadFile(match)
		if err != nil {
			continue
		}
		var record PendingSubmissionRecord
		if err := json.Unmarshal(data, &record); err != nil {
			continue
		}
		if time.Since(record.CreatedAt) > RecordTTL {
			_ = os.Remove(match)
			continue
		}
		records = append(records, record)
	}
	return records, nil
}
