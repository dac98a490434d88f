package entity

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ManifestType tells downstream consumers how to read the logical object
type ManifestType string

const (
	// ManifestTypeMerged means the chunks were composed into a single object
	ManifestTypeMerged ManifestType = "merged"
	// ManifestTypeChunked means the object was too large to merge and the chunk
	// set itself is the logical object, read in manifest order
	ManifestTypeChunked ManifestType = "chunked"
)

// ChunkRef describes one storage chunk of a logical object
type ChunkRef struct {
	Path  string `json:"path"`
	Size  int64  `json:"size"`
	Order int    `json:"order"`
}

// Manifest is the server-visible description of which storage chunks compose
// one logical object. It is created once all chunks have landed, consumed by
// the extraction driver and kept immutable afterwards as an audit record.
type Manifest struct {
	ID         uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	SessionID  uuid.UUID      `json:"session_id" gorm:"type:uuid;not null;index"`
	Type       ManifestType   `json:"type" gorm:"type:varchar(16);not null"`
	Bucket     string         `json:"bucket" gorm:"type:varchar(255);not null"`
	ObjectPath string         `json:"object_path" gorm:"type:varchar(1024)"` // merged mode only
	TotalSize  int64          `json:"total_size" gorm:"not null"`
	ChunkCount int            `json:"chunk_count" gorm:"not null"`
	Chunks     datatypes.JSON `json:"chunks" gorm:"type:jsonb"`
	CreatedAt  time.Time      `json:"created_at" gorm:"not null;autoCreateTime"`
}

// ChunkRefs decodes the ordered chunk list.
func (m *Manifest) ChunkRefs() ([]ChunkRef, error) {
	var refs []ChunkRef
	if len(m.Chunks) == 0 {
		return refs, nil
	}
	if err := json.Unmarshal(m.Chunks, &refs); err != nil {
		return nil, fmt.Errorf("failed to decode manifest chunks: %w", err)
	}
	return refs, nil
}

// SetChunkRefs encodes the ordered chunk list.
func (m *Manifest) SetChunkRefs(refs []ChunkRef) error {
	data, err := json.Marshal(refs)
	if err != nil {
		return fmt.Errorf("failed to encode manifest chunks: %w", err)
	}
	m.Chunks = data
	m.ChunkCount = len(refs)
	return nil
}

// ValidateChunkRefs checks that the refs partition [0, totalSize) in order,
// with no gaps, overlaps or duplicate order values.
func ValidateChunkRefs(refs []ChunkRef, totalSize int64) error {
	var covered int64
	for i, ref := range refs {
		if ref.Order != i {
			return fmt.Errorf("chunk at position %d has order %d", i, ref.Order)
		}
		if ref.Size <= 0 {
			return fmt.Errorf("chunk %d has non-positive size %d", i, ref.Size)
		}
		covered += ref.Size
	}
	if covered != totalSize {
		return fmt.Errorf("chunks cover %d bytes, expected %d", covered, totalSize)
	}
	return nil
}
