package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// All endpoints answer with a {success, message?, ...} envelope.

func OK(c *gin.Context, extra gin.H) {
	body := gin.H{"success": true}
	for k, v := range extra {
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
}

func OKMsg(c *gin.Context, msg string, extra gin.H) {
	body := gin.H{"success": true, "message": msg}
	for k, v := range extra {
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
}

// Fail writes a failure envelope with HTTP 200, the way user-correctable
// validation and auth denials are reported.
func Fail(c *gin.Context, msg string) {
	c.JSON(http.StatusOK, gin.H{"success": false, "message": msg})
}

// FailStatus writes a failure envelope with an explicit status code.
func FailStatus(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"success": false, "message": msg})
}
