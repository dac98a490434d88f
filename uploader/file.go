package uploader

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// LocalFile is one file on disk queued for upload
type LocalFile struct {
	Path    string
	Name    string
	Size    int64
	ModTime time.Time
}

// OpenLocalFile stats a path into a LocalFile descriptor
func OpenLocalFile(path string) (*LocalFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	return &LocalFile{
		Path:    path,
		Name:    filepath.Base(path),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

// RemoteLocation is where an upload ended up. Mode "merged" means a single
// object at Bucket/Path; mode "chunked" means the object exists only as the
// manifest's chunk set.
type RemoteLocation struct {
	Mode       string
	Bucket     string
	Path       string
	ManifestID string
	TotalSize  int64
}
