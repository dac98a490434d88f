package utils

import "github.com/gin-gonic/gin"

func JSON200(c *gin.Context, data interface{}) {
	c.JSON(200, data)
}

func JSON201(c *gin.Context, data interface{}) {
	c.JSON(201, data)
}

func JSON400(c *gin.Context, message string) {
	c.JSON(400, gin.H{"error": message})
}

func JSON401(c *gin.Context, message string) {
	c.JSON(401, gin.H{"error": message})
}

func JSON404(c *gin.Context, message string) {
	c.JSON(404, gin.H{"error": message})
}

func JSON409(c *gin.Context, message string) {
	c.JSON(409, gin.H{"error": message})
}

func JSON413(c *gin.Context, message string) {
	c.JSON(413, gin.H{"error": message})
}

func JSON500(c *gin.Context, message string) {
	c.JSON(500, gin.H{"error": message})
}
