package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/ducnh/coursereel/http/controller"
	middlewares "github.com/ducnh/coursereel/http/middleware"
)

func SetupRouter(ctrl *controller.Controller) *gin.Engine {
	r := gin.Default()
	middles, err := middlewares.NewMiddlewares(ctrl)
	if err != nil {
		panic(err)
	}

	r.Use(middles.CORSMiddleware)

	apiRoutes := r.Group("/api/v1/coursereel")
	{
		apiRoutes.GET("/health/batch", ctrl.BatchHealth)

		uploadRoutes := apiRoutes.Group("/uploads")
		{
			uploadRoutes.Use(middles.UploadAuth)

			uploadRoutes.POST("/chunked/init", ctrl.InitChunkedUpload)
			uploadRoutes.POST("/chunked/presign", ctrl.PresignChunk)
			uploadRoutes.POST("/chunked/chunk", ctrl.ChunkUploaded)
			uploadRoutes.POST("/chunked/complete", ctrl.CompleteChunkedUpload)
			uploadRoutes.GET("/chunked/:upload_id/progress", ctrl.GetUploadProgress)
			uploadRoutes.DELETE("/chunked/:upload_id", ctrl.AbortChunkedUpload)

			uploadRoutes.POST("/resumable", ctrl.CreateResumable)
			uploadRoutes.HEAD("/resumable/:upload_id", ctrl.HeadResumable)
			uploadRoutes.GET("/resumable/:upload_id", ctrl.HeadResumable)
			uploadRoutes.PATCH("/resumable/:upload_id", ctrl.PatchResumable)

			uploadRoutes.GET("/stat", ctrl.StatObject)
		}

		manifestRoutes := apiRoutes.Group("/manifests")
		{
			manifestRoutes.GET("/:manifest_id", middles.UploadAuth, ctrl.GetManifest)
			manifestRoutes.GET("/:manifest_id/stream", middles.StreamAuth, ctrl.StreamManifest)
		}

		courseRoutes := apiRoutes.Group("/courses")
		{
			courseRoutes.Use(middles.UploadAuth)

			courseRoutes.POST("/finalize", ctrl.FinalizeCourse)
			courseRoutes.GET("/modules/:module_id/progress", ctrl.GetModuleProgress)
			courseRoutes.POST("/modules/:module_id/retry", ctrl.RetryModule)
			courseRoutes.POST("/modules/:module_id/repair", ctrl.RepairModule)
			courseRoutes.POST("/modules/:module_id/kickstart", ctrl.KickstartModule)
			courseRoutes.POST("/modules/:module_id/resume-failed", ctrl.ResumeFailedModule)
		}
	}

	return r
}
