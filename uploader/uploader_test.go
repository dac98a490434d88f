package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ducnh/coursereel/http/controller/dto"
	"github.com/ducnh/coursereel/uploader/statestore"
)

// fakeAPI implements just enough of the upload API for the client engines:
// chunked init/presign/confirm/complete, resumable create/offset/patch,
// stat, manifests, health and finalize.
type fakeAPI struct {
	t  *testing.T
	mu sync.Mutex

	chunkSize    int64
	composeLimit int64
	frameSize    int64
	resumableMax int64

	nextID    int
	sessions  map[string]*fakeSession
	objects   map[string][]byte // "bucket/path" -> bytes
	manifests map[string][]dto.FinalizeAttachment
	courses   map[string]string // batchID -> courseID

	// failure injection
	putFailures    map[int]int // chunk index -> number of 500s to serve first
	patchFailures  int         // number of 500s before PATCH succeeds
	statFailures   int         // number of 404s before stat succeeds
	finalizeFails  int         // number of 400s before finalize succeeds
	finalizeAnswer int         // when non-zero, finalize answers this status once
	forceOffset413 bool        // reject resumable create with 413
	conflictAt     int64       // PATCH at this offset answers 409 once
	conflictFired  bool
	health         *dto.HealthResponse

	// counters for assertions
	initChunkedCalls int
	putCalls         int
	patchCalls       int
	finalizeCalls    int
	lastFinalize     *dto.FinalizeCourseRequest

	server *httptest.Server
}

type fakeSession struct {
	id          string
	fileName    string
	fileSize    int64
	transport   string
	totalChunks int
	offset      int64
	buffer      bytes.Buffer
	complete    bool
	destination string
	manifestLen int // chunk count when completed in chunked mode
	manifestID  string
}

func newFakeAPI(t *testing.T) *fakeAPI {
	api := &fakeAPI{
		t:            t,
		chunkSize:    64,
		composeLimit: 1 << 20,
		frameSize:    32,
		resumableMax: 1 << 20,
		sessions:     make(map[string]*fakeSession),
		objects:      make(map[string][]byte),
		manifests:    make(map[string][]dto.FinalizeAttachment),
		courses:      make(map[string]string),
		putFailures:  make(map[int]int),
	}
	api.server = httptest.NewServer(http.HandlerFunc(api.handle))
	t.Cleanup(api.server.Close)
	return api
}

func (a *fakeAPI) client() *Client {
	c := NewClient(a.server.URL, "test-token")
	c.retry.RetryWaitMin = time.Millisecond
	c.retry.RetryWaitMax = 5 * time.Millisecond
	return c
}

func (a *fakeAPI) handle(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	case path == "/api/v1/coursereel/uploads/chunked/init":
		a.handleInitChunked(w, r)
	case path == "/api/v1/coursereel/uploads/chunked/presign":
		a.handlePresign(w, r)
	case path == "/api/v1/coursereel/uploads/chunked/chunk":
		a.handleConfirmChunk(w, r)
	case path == "/api/v1/coursereel/uploads/chunked/complete":
		a.handleComplete(w, r)
	case path == "/api/v1/coursereel/uploads/resumable" && r.Method == http.MethodPost:
		a.handleCreateResumable(w, r)
	case strings.HasPrefix(path, "/api/v1/coursereel/uploads/resumable/"):
		a.handleResumable(w, r)
	case path == "/api/v1/coursereel/uploads/stat":
		a.handleStat(w, r)
	case strings.HasPrefix(path, "/api/v1/coursereel/manifests/"):
		a.handleManifest(w, r)
	case path == "/api/v1/coursereel/health/batch":
		a.handleHealth(w, r)
	case path == "/api/v1/coursereel/courses/finalize":
		a.handleFinalize(w, r)
	case strings.HasPrefix(path, "/storage/"):
		a.handleStoragePut(w, r)
	default:
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func (a *fakeAPI) newSession(prefix string) *fakeSession {
	a.nextID++
	s := &fakeSession{id: fmt.Sprintf("%s-%d", prefix, a.nextID)}
	a.sessions[s.id] = s
	return s
}

func (a *fakeAPI) handleInitChunked(w http.ResponseWriter, r *http.Request) {
	var req dto.InitChunkedUploadRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.initChunkedCalls++

	s := a.newSession("chunked")
	s.fileName = req.FileName
	s.fileSize = req.FileSize
	s.transport = "chunked"
	s.totalChunks = int((req.FileSize + a.chunkSize - 1) / a.chunkSize)
	s.destination = "videos/" + s.id + "/" + req.FileName

	writeJSON(w, http.StatusCreated, dto.InitChunkedUploadResponse{
		UploadID:    s.id,
		ChunkSize:   a.chunkSize,
		TotalChunks: s.totalChunks,
	})
}

func (a *fakeAPI) handlePresign(w http.ResponseWriter, r *http.Request) {
	var req dto.PresignChunkRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	key := fmt.Sprintf("temp/%s/chunk_%06d", req.UploadID, req.ChunkIndex)
	writeJSON(w, http.StatusOK, dto.PresignChunkResponse{
		ChunkIndex: req.ChunkIndex,
		URL:        a.server.URL + "/storage/" + key + "?index=" + strconv.Itoa(req.ChunkIndex),
		Path:       key,
	})
}

func (a *fakeAPI) handleStoragePut(w http.ResponseWriter, r *http.Request) {
	index, _ := strconv.Atoi(r.URL.Query().Get("index"))

	a.mu.Lock()
	a.putCalls++
	if a.putFailures[index] > 0 {
		a.putFailures[index]--
		a.mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	a.mu.Unlock()

	data, _ := io.ReadAll(r.Body)

	a.mu.Lock()
	a.objects["temp/"+strings.TrimPrefix(r.URL.Path, "/storage/")] = data
	a.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (a *fakeAPI) handleConfirmChunk(w http.ResponseWriter, r *http.Request) {
	var req dto.ChunkUploadedRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	a.mu.Lock()
	defer a.mu.Unlock()
	key := fmt.Sprintf("temp/temp/%s/chunk_%06d", req.UploadID, req.ChunkIndex)
	data, ok := a.objects[key]
	if !ok || int64(len(data)) != req.Size {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "chunk missing or size mismatch"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *fakeAPI) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req dto.CompleteChunkedUploadRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.sessions[req.UploadID]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}

	var merged bytes.Buffer
	for i := 0; i < s.totalChunks; i++ {
		key := fmt.Sprintf("temp/temp/%s/chunk_%06d", s.id, i)
		data, ok := a.objects[key]
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("chunk %d missing", i)})
			return
		}
		merged.Write(data)
	}
	if int64(merged.Len()) != s.fileSize {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "size mismatch"})
		return
	}

	s.complete = true
	if s.fileSize <= a.composeLimit {
		a.objects["media/"+s.destination] = merged.Bytes()
		writeJSON(w, http.StatusOK, dto.CompleteChunkedUploadResponse{
			Mode:      "merged",
			Bucket:    "media",
			Path:      s.destination,
			TotalSize: s.fileSize,
		})
		return
	}

	s.manifestID = "manifest-" + s.id
	s.manifestLen = s.totalChunks
	a.manifests[s.manifestID] = nil
	a.objects["media/manifest/"+s.manifestID] = merged.Bytes()
	writeJSON(w, http.StatusOK, dto.CompleteChunkedUploadResponse{
		Mode:       "chunked",
		Bucket:     "media",
		ManifestID: s.manifestID,
		TotalSize:  s.fileSize,
	})
}

func (a *fakeAPI) handleCreateResumable(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateResumableRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.forceOffset413 || req.FileSize > a.resumableMax {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "too large"})
		return
	}

	s := a.newSession("resumable")
	s.fileName = req.FileName
	s.fileSize = req.FileSize
	s.transport = "resumable"
	s.destination = "videos/" + s.id + "/" + req.FileName

	writeJSON(w, http.StatusCreated, dto.CreateResumableResponse{
		UploadID:  s.id,
		FrameSize: a.frameSize,
	})
}

func (a *fakeAPI) handleResumable(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/coursereel/uploads/resumable/")

	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.sessions[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}

	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		writeJSON(w, http.StatusOK, dto.ResumableOffsetResponse{
			UploadID: s.id,
			Offset:   s.offset,
			Complete: s.complete,
			Bucket:   "media",
			Path:     s.destination,
		})
		return
	}

	// PATCH
	a.patchCalls++
	if a.patchFailures > 0 {
		a.patchFailures--
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	offset, _ := strconv.ParseInt(r.Header.Get("Upload-Offset"), 10, 64)
	if a.conflictAt > 0 && offset == a.conflictAt && !a.conflictFired {
		a.conflictFired = true
		writeJSON(w, http.StatusConflict, map[string]string{"error": "offset mismatch"})
		return
	}
	if offset != s.offset {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "offset mismatch"})
		return
	}

	data, _ := io.ReadAll(r.Body)
	s.buffer.Write(data)
	s.offset += int64(len(data))

	resp := dto.ResumableOffsetResponse{UploadID: s.id, Offset: s.offset}
	if s.offset >= s.fileSize {
		s.complete = true
		a.objects["media/"+s.destination] = s.buffer.Bytes()
		resp.Complete = true
		resp.Bucket = "media"
		resp.Path = s.destination
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *fakeAPI) handleStat(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.statFailures > 0 {
		a.statFailures--
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "object not found"})
		return
	}

	bucket := r.URL.Query().Get("bucket")
	path := r.URL.Query().Get("path")
	data, ok := a.objects[bucket+"/"+path]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "object not found"})
		return
	}
	writeJSON(w, http.StatusOK, dto.StatObjectResponse{
		Bucket: bucket,
		Path:   path,
		Size:   int64(len(data)),
	})
}

func (a *fakeAPI) handleManifest(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/coursereel/manifests/")

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.manifests[id]; !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "manifest not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (a *fakeAPI) handleHealth(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.health != nil {
		writeJSON(w, http.StatusOK, a.health)
		return
	}
	writeJSON(w, http.StatusOK, dto.HealthResponse{
		Dependencies:  map[string]string{"database": "ok", "storage": "ok"},
		ReadyForBatch: true,
	})
}

func (a *fakeAPI) handleFinalize(w http.ResponseWriter, r *http.Request) {
	var req dto.FinalizeCourseRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.finalizeCalls++
	a.lastFinalize = &req

	if a.finalizeAnswer != 0 {
		code := a.finalizeAnswer
		a.finalizeAnswer = 0
		writeJSON(w, code, map[string]string{"error": "finalize rejected"})
		return
	}
	if a.finalizeFails > 0 {
		a.finalizeFails--
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "finalize temporarily rejected"})
		return
	}

	if courseID, ok := a.courses[req.BatchID]; ok {
		writeJSON(w, http.StatusOK, dto.FinalizeCourseResponse{
			CourseID: courseID,
			BatchID:  req.BatchID,
			Replayed: true,
		})
		return
	}

	courseID := fmt.Sprintf("course-%d", len(a.courses)+1)
	a.courses[req.BatchID] = courseID
	writeJSON(w, http.StatusCreated, dto.FinalizeCourseResponse{
		CourseID: courseID,
		BatchID:  req.BatchID,
	})
}

// writeTempFile creates a file with deterministic content for upload tests
func writeTempFile(t *testing.T, dir, name string, size int64) *LocalFile {
	t.Helper()

	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	file, err := OpenLocalFile(path)
	require.NoError(t, err)
	return file
}

func newTestStore(t *testing.T) *statestore.Store {
	t.Helper()
	store, err := statestore.New(t.TempDir())
	require.NoError(t, err)
	return store
}

func noSleep(context.Context, time.Duration) error { return nil }
