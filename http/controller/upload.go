package controller

import (
	"fmt"
	"path"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ducnh/coursereel/entity"
	"github.com/ducnh/coursereel/http/controller/dto"
	"github.com/ducnh/coursereel/utils"
)

func chunkKey(prefix string, index int) string {
	return fmt.Sprintf("%s/chunk_%06d", prefix, index)
}

// InitChunkedUpload creates a chunked upload session. Every session gets a
// freshly generated destination path: uploading the same file twice produces
// two independent artifacts, never a merge or reuse.
func (ctrl *Controller) InitChunkedUpload(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.InitChunkedUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.JSON400(c, "Invalid request: "+err.Error())
		return
	}

	uploadCfg := ctrl.Config.EnvConfig.Upload
	chunkSize := uploadCfg.ChunkSize
	totalChunks := int((req.FileSize + chunkSize - 1) / chunkSize)

	sessionID := uuid.New()
	session := &entity.UploadSession{
		ID:              sessionID,
		FileName:        req.FileName,
		FileSize:        req.FileSize,
		ContentType:     req.ContentType,
		Transport:       entity.TransportChunked,
		ChunkSize:       chunkSize,
		TotalChunks:     totalChunks,
		Status:          entity.UploadStatusInit,
		TempBucket:      uploadCfg.TempBucket,
		TempPrefix:      "chunked/" + sessionID.String(),
		DestinationPath: path.Join("videos", sessionID.String(), req.FileName),
		ExpiresAt:       time.Now().Add(time.Duration(uploadCfg.SessionTTLHours) * time.Hour),
	}

	if err := ctrl.Infra.Minio.EnsureBucket(ctx, uploadCfg.TempBucket); err != nil {
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[Upload] Failed to ensure temp bucket")
		utils.JSON500(c, "Storage unavailable")
		return
	}

	if err := ctrl.Repository.UploadSessionRepo.Create(session); err != nil {
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[Upload] Failed to create session")
		utils.JSON500(c, "Failed to create upload session")
		return
	}

	ctrl.Infra.Logger.InfoWithContextf(ctx, "[Upload] Chunked session %s created for '%s' (%d bytes, %d chunks)",
		sessionID, req.FileName, req.FileSize, totalChunks)

	utils.JSON201(c, dto.InitChunkedUploadResponse{
		UploadID:    sessionID.String(),
		ChunkSize:   chunkSize,
		TotalChunks: totalChunks,
		ExpiresAt:   session.ExpiresAt.Format(time.RFC3339),
	})
}

// PresignChunk returns a pre-signed PUT destination for one chunk index
func (ctrl *Controller) PresignChunk(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.PresignChunkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.JSON400(c, "Invalid request: "+err.Error())
		return
	}

	sessionID, err := uuid.Parse(req.UploadID)
	if err != nil {
		utils.JSON400(c, "Invalid upload_id format")
		return
	}

	session, err := ctrl.Repository.UploadSessionRepo.ValidateActive(sessionID)
	if err != nil {
		utils.JSON404(c, "Upload session not available: "+err.Error())
		return
	}

	if req.ChunkIndex >= session.TotalChunks {
		utils.JSON400(c, fmt.Sprintf("chunk_index %d out of range (total %d)", req.ChunkIndex, session.TotalChunks))
		return
	}

	key := chunkKey(session.TempPrefix, req.ChunkIndex)
	expiry := time.Duration(ctrl.Config.EnvConfig.Upload.PresignExpiryMins) * time.Minute
	url, err := ctrl.Infra.Minio.PresignedPutURL(ctx, session.TempBucket, key, expiry)
	if err != nil {
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[Upload] Failed to presign chunk %d", req.ChunkIndex)
		utils.JSON500(c, "Failed to presign chunk destination")
		return
	}

	utils.JSON200(c, dto.PresignChunkResponse{
		ChunkIndex: req.ChunkIndex,
		URL:        url,
		Path:       key,
	})
}

// ChunkUploaded confirms that one chunk landed in storage. The chunk is
// stat-checked before the session advances so a lying client cannot mark a
// missing chunk as done.
func (ctrl *Controller) ChunkUploaded(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.ChunkUploadedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.JSON400(c, "Invalid request: "+err.Error())
		return
	}

	sessionID, err := uuid.Parse(req.UploadID)
	if err != nil {
		utils.JSON400(c, "Invalid upload_id format")
		return
	}

	session, err := ctrl.Repository.UploadSessionRepo.ValidateActive(sessionID)
	if err != nil {
		utils.JSON404(c, "Upload session not available: "+err.Error())
		return
	}

	key := chunkKey(session.TempPrefix, req.ChunkIndex)
	stat, err := ctrl.Infra.Minio.StatObject(ctx, session.TempBucket, key)
	if err != nil {
		utils.JSON400(c, fmt.Sprintf("chunk %d not found in storage", req.ChunkIndex))
		return
	}
	if stat.Size != req.Size {
		utils.JSON400(c, fmt.Sprintf("chunk %d size mismatch: stored %d, reported %d", req.ChunkIndex, stat.Size, req.Size))
		return
	}

	if err := ctrl.Repository.UploadSessionRepo.IncrementUploadedChunks(sessionID); err != nil {
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[Upload] Failed to advance session %s", sessionID)
		utils.JSON500(c, "Failed to record chunk")
		return
	}

	utils.JSON200(c, dto.UploadProgressResponse{
		UploadID:       sessionID.String(),
		UploadedChunks: session.UploadedChunks + 1,
		TotalChunks:    session.TotalChunks,
		Status:         string(entity.UploadStatusUploading),
		Progress:       float64(session.UploadedChunks+1) / float64(session.TotalChunks) * 100,
	})
}

// CompleteChunkedUpload verifies every chunk, then either composes them into
// a single destination object or, when the object exceeds the compose limit,
// records a chunk manifest that downstream consumers read as the logical
// object.
func (ctrl *Controller) CompleteChunkedUpload(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.CompleteChunkedUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.JSON400(c, "Invalid request: "+err.Error())
		return
	}

	sessionID, err := uuid.Parse(req.UploadID)
	if err != nil {
		utils.JSON400(c, "Invalid upload_id format")
		return
	}

	session, err := ctrl.Repository.UploadSessionRepo.ValidateActive(sessionID)
	if err != nil {
		utils.JSON404(c, "Upload session not available: "+err.Error())
		return
	}

	// Build and validate the ordered chunk set from storage, not from the
	// session counter: storage is the source of truth here.
	refs := make([]entity.ChunkRef, 0, session.TotalChunks)
	for i := 0; i < session.TotalChunks; i++ {
		key := chunkKey(session.TempPrefix, i)
		stat, err := ctrl.Infra.Minio.StatObject(ctx, session.TempBucket, key)
		if err != nil {
			utils.JSON400(c, fmt.Sprintf("chunk %d missing, upload incomplete", i))
			return
		}
		refs = append(refs, entity.ChunkRef{Path: key, Size: stat.Size, Order: i})
	}

	if err := entity.ValidateChunkRefs(refs, session.FileSize); err != nil {
		utils.JSON400(c, "chunk set invalid: "+err.Error())
		return
	}

	if err := ctrl.Repository.UploadSessionRepo.UpdateStatus(sessionID, entity.UploadStatusMerging); err != nil {
		utils.JSON500(c, "Failed to update session")
		return
	}

	uploadCfg := ctrl.Config.EnvConfig.Upload
	manifest := &entity.Manifest{
		ID:        uuid.New(),
		SessionID: sessionID,
		TotalSize: session.FileSize,
	}

	if session.FileSize <= uploadCfg.ComposeLimit {
		// Small enough to merge in place
		if err := ctrl.Infra.Minio.ComposeChunks(ctx, session.TempBucket, refs,
			uploadCfg.MediaBucket, session.DestinationPath, session.ContentType); err != nil {
			ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[Upload] Compose failed for session %s", sessionID)
			_ = ctrl.Repository.UploadSessionRepo.MarkFailed(sessionID, "merge failed: "+err.Error())
			utils.JSON500(c, "Failed to merge chunks")
			return
		}
		_ = ctrl.Infra.Minio.RemovePrefix(ctx, session.TempBucket, session.TempPrefix)

		manifest.Type = entity.ManifestTypeMerged
		manifest.Bucket = uploadCfg.MediaBucket
		manifest.ObjectPath = session.DestinationPath
		if err := manifest.SetChunkRefs(refs); err != nil {
			utils.JSON500(c, "Failed to record manifest")
			return
		}
	} else {
		// Too large to merge: move chunks to durable storage and let the
		// manifest itself be the logical object.
		durableRefs := make([]entity.ChunkRef, 0, len(refs))
		for _, ref := range refs {
			dstKey := chunkKey(session.DestinationPath, ref.Order)
			if err := ctrl.Infra.Minio.CopyObject(ctx, session.TempBucket, ref.Path, uploadCfg.MediaBucket, dstKey); err != nil {
				ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[Upload] Chunk relocation failed for session %s", sessionID)
				_ = ctrl.Repository.UploadSessionRepo.MarkFailed(sessionID, "chunk relocation failed: "+err.Error())
				utils.JSON500(c, "Failed to relocate chunks")
				return
			}
			durableRefs = append(durableRefs, entity.ChunkRef{Path: dstKey, Size: ref.Size, Order: ref.Order})
		}
		_ = ctrl.Infra.Minio.RemovePrefix(ctx, session.TempBucket, session.TempPrefix)

		manifest.Type = entity.ManifestTypeChunked
		manifest.Bucket = uploadCfg.MediaBucket
		if err := manifest.SetChunkRefs(durableRefs); err != nil {
			utils.JSON500(c, "Failed to record manifest")
			return
		}
	}

	if err := ctrl.Repository.ManifestRepo.Create(manifest); err != nil {
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[Upload] Failed to persist manifest for session %s", sessionID)
		utils.JSON500(c, "Failed to persist manifest")
		return
	}

	if err := ctrl.Repository.UploadSessionRepo.UpdateStatus(sessionID, entity.UploadStatusCompleted); err != nil {
		utils.JSON500(c, "Failed to finish session")
		return
	}

	ctrl.Infra.Logger.InfoWithContextf(ctx, "[Upload] Session %s completed, mode=%s", sessionID, manifest.Type)

	utils.JSON200(c, dto.CompleteChunkedUploadResponse{
		Mode:       string(manifest.Type),
		Bucket:     manifest.Bucket,
		Path:       manifest.ObjectPath,
		ManifestID: manifest.ID.String(),
		TotalSize:  manifest.TotalSize,
	})
}

// GetUploadProgress returns the server-side view of a session
func (ctrl *Controller) GetUploadProgress(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("upload_id"))
	if err != nil {
		utils.JSON400(c, "Invalid upload_id format")
		return
	}

	session, err := ctrl.Repository.UploadSessionRepo.FindByID(sessionID)
	if err != nil {
		utils.JSON404(c, "Upload session not found")
		return
	}

	progress := 0.0
	if session.TotalChunks > 0 {
		progress = float64(session.UploadedChunks) / float64(session.TotalChunks) * 100
	}

	utils.JSON200(c, dto.UploadProgressResponse{
		UploadID:       session.ID.String(),
		UploadedChunks: session.UploadedChunks,
		TotalChunks:    session.TotalChunks,
		Status:         string(session.Status),
		Progress:       progress,
	})
}

// AbortChunkedUpload removes the session and any temp chunks it wrote
func (ctrl *Controller) AbortChunkedUpload(c *gin.Context) {
	ctx := c.Request.Context()

	sessionID, err := uuid.Parse(c.Param("upload_id"))
	if err != nil {
		utils.JSON400(c, "Invalid upload_id format")
		return
	}

	session, err := ctrl.Repository.UploadSessionRepo.FindByID(sessionID)
	if err != nil {
		utils.JSON404(c, "Upload session not found")
		return
	}

	if err := ctrl.Infra.Minio.RemovePrefix(ctx, session.TempBucket, session.TempPrefix); err != nil {
		ctrl.Infra.Logger.WarningWithContextf(ctx, "[Upload] Failed to sweep temp chunks for %s: %v", sessionID, err)
	}

	if err := ctrl.Repository.UploadSessionRepo.Delete(sessionID); err != nil {
		utils.JSON500(c, "Failed to delete session")
		return
	}

	utils.JSON200(c, gin.H{"message": "upload aborted", "upload_id": sessionID.String()})
}

// StatObject is the read-back verification probe: it confirms an object
// actually exists in storage after a transport reported success.
func (ctrl *Controller) StatObject(c *gin.Context) {
	ctx := c.Request.Context()

	bucket := c.Query("bucket")
	objectPath := c.Query("path")
	if bucket == "" || objectPath == "" {
		utils.JSON400(c, "bucket and path are required")
		return
	}

	stat, err := ctrl.Infra.Minio.StatObject(ctx, bucket, objectPath)
	if err != nil {
		utils.JSON404(c, "object not found")
		return
	}

	utils.JSON200(c, dto.StatObjectResponse{
		Bucket:      bucket,
		Path:        objectPath,
		Size:        stat.Size,
		ContentType: stat.ContentType,
	})
}
