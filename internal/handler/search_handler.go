// Package handler 实现了所有 HTTP 请求的处理器。
package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"material-search-go/internal/config"
	"material-search-go/internal/service"
	"material-search-go/pkg/embedding"
	"material-search-go/pkg/log"
)

const defaultTopN = 30

// SearchHandler 结构体定义了搜索相关的处理器。
type SearchHandler struct {
	searchService service.SearchService
	cfg           config.SearchConfig
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(searchService service.SearchService, cfg config.SearchConfig) *SearchHandler {
	return &SearchHandler{
		searchService: searchService,
		cfg:           cfg,
	}
}

// textSearchRequest 是文本搜索请求体。阈值为 0-100 的分数，缺省用配置值。
type textSearchRequest struct {
	Target            string   `json:"target"` // image 或 video
	Positive          string   `json:"positive"`
	Negative          string   `json:"negative"`
	PositiveThreshold *float64 `json:"positiveThreshold"`
	NegativeThreshold *float64 `json:"negativeThreshold"`
	Path              string   `json:"path"`
	StartTime         *int64   `json:"startTime"` // Unix 秒
	EndTime           *int64   `json:"endTime"`
	TopN              int      `json:"topN"`
}

func (r *textSearchRequest) options() service.SearchOptions {
	opts := service.SearchOptions{
		PathFilter: r.Path,
		TopN:       r.TopN,
	}
	if opts.TopN <= 0 {
		opts.TopN = defaultTopN
	}
	if r.StartTime != nil {
		t := time.Unix(*r.StartTime, 0)
		opts.StartTime = &t
	}
	if r.EndTime != nil {
		t := time.Unix(*r.EndTime, 0)
		opts.EndTime = &t
	}
	return opts
}

// SearchByText 处理以文搜图/搜视频请求。
func (h *SearchHandler) SearchByText(c *gin.Context) {
	var req textSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求体"})
		return
	}
	if req.Positive == "" && req.Negative == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "正向和反向查询不能同时为空"})
		return
	}

	positiveThreshold := float64(h.cfg.PositiveThreshold)
	if req.PositiveThreshold != nil {
		positiveThreshold = *req.PositiveThreshold
	}
	negativeThreshold := float64(h.cfg.NegativeThreshold)
	if req.NegativeThreshold != nil {
		negativeThreshold = *req.NegativeThreshold
	}
	log.Infof("[SearchHandler] 文本搜索, target: %s, positive: %q, negative: %q", req.Target, req.Positive, req.Negative)

	ctx := c.Request.Context()
	switch req.Target {
	case "video":
		results, err := h.searchService.SearchVideosByText(ctx, req.Positive, req.Negative, positiveThreshold, negativeThreshold, req.options())
		if err != nil {
			h.searchError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 200, "data": results, "message": "success"})
	case "", "image":
		results, err := h.searchService.SearchImagesByText(ctx, req.Positive, req.Negative, positiveThreshold, negativeThreshold, req.options())
		if err != nil {
			h.searchError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 200, "data": results, "message": "success"})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的 target 参数"})
	}
}

// SearchByImage 处理以图搜图/搜视频请求，查询图通过 multipart 上传。
func (h *SearchHandler) SearchByImage(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少查询图片"})
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无法读取查询图片"})
		return
	}
	defer f.Close()
	payload, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无法读取查询图片"})
		return
	}

	threshold := float64(h.cfg.ImageThreshold)
	if v := c.PostForm("threshold"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			threshold = parsed
		}
	}
	opts := service.SearchOptions{
		PathFilter: c.PostForm("path"),
		TopN:       defaultTopN,
	}
	if v := c.PostForm("topN"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			opts.TopN = parsed
		}
	}
	target := c.DefaultPostForm("target", "image")
	log.Infof("[SearchHandler] 图片搜索, target: %s, file: %s, size: %d", target, fileHeader.Filename, len(payload))

	ctx := c.Request.Context()
	switch target {
	case "video":
		results, err := h.searchService.SearchVideosByImage(ctx, payload, threshold, opts)
		if err != nil {
			h.searchError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 200, "data": results, "message": "success"})
	case "image":
		results, err := h.searchService.SearchImagesByImage(ctx, payload, threshold, opts)
		if err != nil {
			h.searchError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 200, "data": results, "message": "success"})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的 target 参数"})
	}
}

// CleanCache 清空文本向量缓存。
func (h *SearchHandler) CleanCache(c *gin.Context) {
	if err := h.searchService.CleanCache(c.Request.Context()); err != nil {
		log.Errorf("[SearchHandler] 清空缓存失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "清空缓存失败"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *SearchHandler) searchError(c *gin.Context, err error) {
	log.Errorf("[SearchHandler] 搜索失败: %v", err)
	if errors.Is(err, embedding.ErrUnavailable) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "特征服务不可用"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "搜索失败"})
}
