package controller

import (
	"fmt"
	"io"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ducnh/coursereel/entity"
	"github.com/ducnh/coursereel/utils"
)

// StreamManifest serves a chunk-manifest video as one continuous byte stream.
// Videos above the compose limit never exist as a single object, so this is
// the only way downstream consumers can read them whole.
func (ctrl *Controller) StreamManifest(c *gin.Context) {
	ctx := c.Request.Context()

	manifestID, err := uuid.Parse(c.Param("manifest_id"))
	if err != nil {
		utils.JSON400(c, "Invalid manifest_id format")
		return
	}

	manifest, err := ctrl.Repository.ManifestRepo.FindByID(manifestID)
	if err != nil {
		utils.JSON404(c, "Manifest not found")
		return
	}

	if manifest.Type == entity.ManifestTypeMerged {
		// Merged objects exist as one object; stream that directly.
		reader, size, err := ctrl.Infra.Minio.GetObjectStream(ctx, manifest.Bucket, manifest.ObjectPath)
		if err != nil {
			ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[Manifest] Failed to open merged object for %s", manifestID)
			utils.JSON500(c, "Failed to open object")
			return
		}
		defer reader.Close()

		c.Header("Content-Length", strconv.FormatInt(size, 10))
		c.Header("Content-Type", "application/octet-stream")
		c.Status(200)
		if _, err := io.Copy(c.Writer, reader); err != nil {
			ctrl.Infra.Logger.WarningWithContextf(ctx, "[Manifest] Stream of %s aborted: %v", manifestID, err)
		}
		return
	}

	refs, err := manifest.ChunkRefs()
	if err != nil {
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[Manifest] Corrupt chunk list on %s", manifestID)
		utils.JSON500(c, "Manifest chunk list unreadable")
		return
	}

	reader := ctrl.Infra.Minio.ManifestReader(ctx, manifest.Bucket, refs)
	defer reader.Close()

	c.Header("Content-Length", strconv.FormatInt(manifest.TotalSize, 10))
	c.Header("Content-Type", "application/octet-stream")
	c.Status(200)
	if written, err := io.Copy(c.Writer, reader); err != nil {
		ctrl.Infra.Logger.WarningWithContextf(ctx, "[Manifest] Stream of %s aborted after %d bytes: %v", manifestID, written, err)
	}
}

// GetManifest returns the manifest record itself
func (ctrl *Controller) GetManifest(c *gin.Context) {
	manifestID, err := uuid.Parse(c.Param("manifest_id"))
	if err != nil {
		utils.JSON400(c, "Invalid manifest_id format")
		return
	}

	manifest, err := ctrl.Repository.ManifestRepo.FindByID(manifestID)
	if err != nil {
		utils.JSON404(c, fmt.Sprintf("Manifest %s not found", manifestID))
		return
	}

	utils.JSON200(c, manifest)
}
