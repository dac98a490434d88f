package controller

import (
	"bytes"
	"fmt"
	"io"
	"path"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ducnh/coursereel/entity"
	"github.com/ducnh/coursereel/http/controller/dto"
	"github.com/ducnh/coursereel/utils"
)

func frameKey(prefix string, offset int64) string {
	return fmt.Sprintf("%s/frame_%015d", prefix, offset)
}

// CreateResumable opens a resumable upload session. Files above the resumable
// size ceiling are rejected outright with 413 so the caller can switch
// transports.
func (ctrl *Controller) CreateResumable(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.CreateResumableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.JSON400(c, "Invalid request: "+err.Error())
		return
	}

	uploadCfg := ctrl.Config.EnvConfig.Upload
	if req.FileSize > uploadCfg.ResumableMaxSize {
		utils.JSON413(c, fmt.Sprintf("file size %d exceeds resumable limit %d", req.FileSize, uploadCfg.ResumableMaxSize))
		return
	}

	sessionID := uuid.New()
	session := &entity.UploadSession{
		ID:              sessionID,
		FileName:        req.FileName,
		FileSize:        req.FileSize,
		ContentType:     req.ContentType,
		Transport:       entity.TransportResumable,
		Status:          entity.UploadStatusInit,
		TempBucket:      uploadCfg.TempBucket,
		TempPrefix:      "resumable/" + sessionID.String(),
		DestinationPath: path.Join("videos", sessionID.String(), req.FileName),
		ExpiresAt:       time.Now().Add(time.Duration(uploadCfg.SessionTTLHours) * time.Hour),
	}

	if err := ctrl.Infra.Minio.EnsureBucket(ctx, uploadCfg.TempBucket); err != nil {
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[Resumable] Failed to ensure temp bucket")
		utils.JSON500(c, "Storage unavailable")
		return
	}

	if err := ctrl.Repository.UploadSessionRepo.Create(session); err != nil {
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[Resumable] Failed to create session")
		utils.JSON500(c, "Failed to create upload session")
		return
	}

	ctrl.Infra.Logger.InfoWithContextf(ctx, "[Resumable] Session %s created for '%s' (%d bytes)",
		sessionID, req.FileName, req.FileSize)

	utils.JSON201(c, dto.CreateResumableResponse{
		UploadID:  sessionID.String(),
		FrameSize: uploadCfg.FrameSize,
		ExpiresAt: session.ExpiresAt.Format(time.RFC3339),
	})
}

// HeadResumable reports the current committed offset so an interrupted client
// can resume from the exact byte it left off
func (ctrl *Controller) HeadResumable(c *gin.Context) {
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

	c.Header("Upload-Offset", strconv.FormatInt(session.Offset, 10))
	utils.JSON200(c, dto.ResumableOffsetResponse{
		UploadID: session.ID.String(),
		Offset:   session.Offset,
		Complete: session.Status == entity.UploadStatusCompleted,
		Bucket:   ctrl.Config.EnvConfig.Upload.MediaBucket,
		Path:     session.DestinationPath,
	})
}

// PatchResumable appends one frame at the declared offset. The offset in the
// request must equal the committed offset; anything else is a conflict the
// client cannot paper over by retrying the same frame.
func (ctrl *Controller) PatchResumable(c *gin.Context) {
	ctx := c.Request.Context()

	sessionID, err := uuid.Parse(c.Param("upload_id"))
	if err != nil {
		utils.JSON400(c, "Invalid upload_id format")
		return
	}

	offset, err := strconv.ParseInt(c.GetHeader("Upload-Offset"), 10, 64)
	if err != nil {
		utils.JSON400(c, "Upload-Offset header missing or malformed")
		return
	}

	session, err := ctrl.Repository.UploadSessionRepo.ValidateActive(sessionID)
	if err != nil {
		utils.JSON404(c, "Upload session not available: "+err.Error())
		return
	}

	if offset != session.Offset {
		c.Header("Upload-Offset", strconv.FormatInt(session.Offset, 10))
		utils.JSON409(c, fmt.Sprintf("offset mismatch: committed %d, declared %d", session.Offset, offset))
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, ctrl.Config.EnvConfig.Upload.FrameSize+1))
	if err != nil {
		utils.JSON400(c, "Failed to read frame body")
		return
	}
	frameLen := int64(len(body))
	if frameLen == 0 {
		utils.JSON400(c, "empty frame")
		return
	}
	if frameLen > ctrl.Config.EnvConfig.Upload.FrameSize {
		utils.JSON413(c, "frame exceeds maximum frame size")
		return
	}
	if offset+frameLen > session.FileSize {
		utils.JSON400(c, "frame overruns declared file size")
		return
	}

	key := frameKey(session.TempPrefix, offset)
	if err := ctrl.Infra.Minio.PutObjectStream(ctx, session.TempBucket, key, bytes.NewReader(body), frameLen, "application/octet-stream"); err != nil {
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[Resumable] Failed to store frame at %d for %s", offset, sessionID)
		utils.JSON500(c, "Failed to store frame")
		return
	}

	newOffset := offset + frameLen
	if err := ctrl.Repository.UploadSessionRepo.AdvanceOffset(sessionID, offset, newOffset); err != nil {
		// Another writer advanced the session while this frame was in flight
		current, findErr := ctrl.Repository.UploadSessionRepo.FindByID(sessionID)
		if findErr == nil {
			c.Header("Upload-Offset", strconv.FormatInt(current.Offset, 10))
		}
		utils.JSON409(c, "offset advanced concurrently")
		return
	}

	if newOffset < session.FileSize {
		c.Header("Upload-Offset", strconv.FormatInt(newOffset, 10))
		utils.JSON200(c, dto.ResumableOffsetResponse{
			UploadID: sessionID.String(),
			Offset:   newOffset,
			Complete: false,
		})
		return
	}

	// Final frame: assemble the destination object from the stored frames
	if err := ctrl.finishResumable(c, session, newOffset); err != nil {
		_ = ctrl.Repository.UploadSessionRepo.MarkFailed(sessionID, "assembly failed: "+err.Error())
		utils.JSON500(c, "Failed to assemble upload")
		return
	}

	c.Header("Upload-Offset", strconv.FormatInt(newOffset, 10))
	utils.JSON200(c, dto.ResumableOffsetResponse{
		UploadID: sessionID.String(),
		Offset:   newOffset,
		Complete: true,
		Bucket:   ctrl.Config.EnvConfig.Upload.MediaBucket,
		Path:     session.DestinationPath,
	})
}

func (ctrl *Controller) finishResumable(c *gin.Context, session *entity.UploadSession, total int64) error {
	ctx := c.Request.Context()
	uploadCfg := ctrl.Config.EnvConfig.Upload

	if err := ctrl.Repository.UploadSessionRepo.UpdateStatus(session.ID, entity.UploadStatusMerging); err != nil {
		return err
	}

	refs := make([]entity.ChunkRef, 0)
	var cursor int64
	order := 0
	for cursor < total {
		key := frameKey(session.TempPrefix, cursor)
		stat, err := ctrl.Infra.Minio.StatObject(ctx, session.TempBucket, key)
		if err != nil {
			return fmt.Errorf("frame at offset %d missing: %w", cursor, err)
		}
		refs = append(refs, entity.ChunkRef{Path: key, Size: stat.Size, Order: order})
		cursor += stat.Size
		order++
	}

	if err := entity.ValidateChunkRefs(refs, total); err != nil {
		return fmt.Errorf("frame set invalid: %w", err)
	}

	if err := ctrl.Infra.Minio.ComposeChunks(ctx, session.TempBucket, refs,
		uploadCfg.MediaBucket, session.DestinationPath, session.ContentType); err != nil {
		return fmt.Errorf("failed to compose frames: %w", err)
	}
	_ = ctrl.Infra.Minio.RemovePrefix(ctx, session.TempBucket, session.TempPrefix)

	if err := ctrl.Repository.UploadSessionRepo.UpdateStatus(session.ID, entity.UploadStatusCompleted); err != nil {
		return err
	}

	ctrl.Infra.Logger.InfoWithContextf(ctx, "[Resumable] Session %s assembled into %s/%s (%d bytes)",
		session.ID, uploadCfg.MediaBucket, session.DestinationPath, total)
	return nil
}
