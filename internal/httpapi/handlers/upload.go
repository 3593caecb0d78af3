package handlers

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tianyan-ai/chat-backend/internal/common"
	"github.com/tianyan-ai/chat-backend/internal/logger"
)

const maxUploadSize = 10 * 1024 * 1024

var allowedExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
}

// sanitizeFilename keeps only the base name and strips characters that
// could escape the upload directory.
func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func (h *Handler) UploadImage(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		common.FailStatus(c, http.StatusBadRequest, "没有文件被上传")
		return
	}
	if file.Filename == "" {
		common.FailStatus(c, http.StatusBadRequest, "没有选择文件")
		return
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	if !allowedExtensions[ext] {
		common.FailStatus(c, http.StatusBadRequest, "只支持以下格式: png, jpg, jpeg, gif")
		return
	}
	if file.Size > maxUploadSize {
		common.FailStatus(c, http.StatusBadRequest,
			fmt.Sprintf("文件大小不能超过 %dMB", maxUploadSize/1024/1024))
		return
	}

	if err := os.MkdirAll(h.Cfg.UploadDir, 0o755); err != nil {
		common.FailStatus(c, http.StatusInternalServerError, "文件保存失败: "+err.Error())
		return
	}

	unique := fmt.Sprintf("%s_%s", strings.ReplaceAll(uuid.NewString(), "-", ""), sanitizeFilename(file.Filename))
	dest := filepath.Join(h.Cfg.UploadDir, unique)

	if err := c.SaveUploadedFile(file, dest); err != nil {
		logger.L().Error("upload save failed", zap.String("dest", dest), zap.Error(err))
		common.FailStatus(c, http.StatusInternalServerError, "文件保存失败: "+err.Error())
		return
	}

	relative := filepath.ToSlash(dest)
	logger.L().Info("file uploaded",
		zap.String("path", relative), zap.Int64("size", file.Size))
	common.OKMsg(c, "文件上传成功", gin.H{
		"file_url": "/" + relative,
		"path":     relative,
	})
}
