package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"material-search-go/internal/service"
	"material-search-go/pkg/log"
)

// ScanHandler 结构体定义了扫描相关的处理器。
type ScanHandler struct {
	scanService service.ScanService
}

// NewScanHandler 创建一个新的 ScanHandler 实例。
func NewScanHandler(scanService service.ScanService) *ScanHandler {
	return &ScanHandler{scanService: scanService}
}

// StartScan 在后台启动一次完整扫描。已有扫描在运行时返回 409。
func (h *ScanHandler) StartScan(c *gin.Context) {
	if h.scanService.IsScanning() {
		c.JSON(http.StatusConflict, gin.H{"error": "扫描任务已在运行中"})
		return
	}
	go func() {
		// 扫描以进程生命周期为准，不跟随触发它的请求
		if err := h.scanService.Scan(context.Background()); err != nil && !errors.Is(err, service.ErrAlreadyScanning) {
			log.Error("[ScanHandler] 扫描失败", err)
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"code": 202, "message": "扫描已启动"})
}

// Status 返回当前扫描进度、索引规模和模型可用性。
func (h *ScanHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": h.scanService.Status(), "message": "success"})
}
