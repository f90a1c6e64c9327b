package handler

import (
	"bytes"
	"net/http"
	"os"
	"strconv"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"

	"material-search-go/internal/repository"
	"material-search-go/pkg/log"
)

// largeImageBytes 超过此大小的图片在返回前先缩小，避免浏览器直接加载巨图。
const largeImageBytes = 50 * 1024 * 1024

// largeImageEdge 缩小后的最长边。
const largeImageEdge = 1920

// MediaHandler 按索引记录提供图片和视频文件的访问。
type MediaHandler struct {
	imageRepo repository.ImageRepository
	videoRepo repository.VideoRepository
}

// NewMediaHandler 创建一个新的 MediaHandler 实例。
func NewMediaHandler(imageRepo repository.ImageRepository, videoRepo repository.VideoRepository) *MediaHandler {
	return &MediaHandler{imageRepo: imageRepo, videoRepo: videoRepo}
}

// GetImage 按记录 ID 返回图片文件内容。
func (h *MediaHandler) GetImage(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的图片 ID"})
		return
	}
	img, err := h.imageRepo.FindByID(uint(id))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "图片不存在"})
		return
	}

	info, err := os.Stat(img.Path)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "图片文件已不存在"})
		return
	}
	if info.Size() > largeImageBytes {
		h.serveDownscaled(c, img.Path)
		return
	}
	c.File(img.Path)
}

// serveDownscaled 把超大图片缩小后以 JPEG 返回。
func (h *MediaHandler) serveDownscaled(c *gin.Context, path string) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		log.Warnf("[MediaHandler] 缩小图片失败: %s, error: %v", path, err)
		c.File(path)
		return
	}
	img = imaging.Fit(img, largeImageEdge, largeImageEdge, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		log.Warnf("[MediaHandler] 编码缩小图失败: %s, error: %v", path, err)
		c.File(path)
		return
	}
	c.Data(http.StatusOK, "image/jpeg", buf.Bytes())
}

// GetVideo 按路径返回视频文件内容，只允许访问索引内的视频。
func (h *MediaHandler) GetVideo(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 path 参数"})
		return
	}
	// 路径必须在索引里，防止用这个接口读任意文件
	row, err := h.videoRepo.FindFirstByPath(path)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询视频失败"})
		return
	}
	if row == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "视频不在索引中"})
		return
	}
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "视频文件已不存在"})
		return
	}
	c.File(path)
}
