// Package service 实现素材扫描、搜索和自动打标的业务逻辑。
package service

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	"material-search-go/internal/config"
	"material-search-go/internal/model"
	"material-search-go/internal/repository"
	"material-search-go/pkg/embedding"
	"material-search-go/pkg/log"
	"material-search-go/pkg/vector"
	"material-search-go/pkg/video"
)

// ErrAlreadyScanning 表示已有扫描任务在运行。
var ErrAlreadyScanning = errors.New("a scan is already in progress")

// ScanService 接口定义了素材库扫描操作。
type ScanService interface {
	// Scan 同步执行一次完整扫描。已在扫描中时返回 ErrAlreadyScanning。
	Scan(ctx context.Context) error
	IsScanning() bool
	Status() model.ScanStatusDTO
	// AutoScan 周期性检查是否处于配置的自动扫描时间窗口内，是则触发扫描。
	// 阻塞直到 ctx 结束，应在单独的 goroutine 中运行。
	AutoScan(ctx context.Context)
}

type scanService struct {
	cfg    config.ScanConfig
	dim    int
	client embedding.Client

	imageRepo repository.ImageRepository
	videoRepo repository.VideoRepository

	// openSource 可在测试中替换为假的视频源
	openSource func(path string) (video.Source, error)

	mu        sync.Mutex
	scanning  bool
	processed int
	skipped   int
	failed    int
	lastScan  time.Time
}

// NewScanService 创建一个新的 ScanService 实例。
func NewScanService(cfg config.ScanConfig, dim int, client embedding.Client,
	imageRepo repository.ImageRepository, videoRepo repository.VideoRepository) ScanService {
	return &scanService{
		cfg:        cfg,
		dim:        dim,
		client:     client,
		imageRepo:  imageRepo,
		videoRepo:  videoRepo,
		openSource: video.Open,
	}
}

func (s *scanService) IsScanning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanning
}

func (s *scanService) Status() model.ScanStatusDTO {
	s.mu.Lock()
	status := model.ScanStatusDTO{
		IsScanning:  s.scanning,
		Processed:   s.processed,
		Skipped:     s.skipped,
		Failed:      s.failed,
		ModelLoaded: s.client.Ready(),
	}
	if !s.lastScan.IsZero() {
		status.LastScanTime = s.lastScan.Unix()
	}
	s.mu.Unlock()

	if n, err := s.imageRepo.Count(); err == nil {
		status.TotalImages = n
	}
	if n, err := s.videoRepo.Count(); err == nil {
		status.TotalVideos = n
	}
	return status
}

func (s *scanService) Scan(ctx context.Context) error {
	s.mu.Lock()
	if s.scanning {
		s.mu.Unlock()
		return ErrAlreadyScanning
	}
	s.scanning = true
	s.processed, s.skipped, s.failed = 0, 0, 0
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.scanning = false
		s.lastScan = time.Now()
		s.mu.Unlock()
	}()

	log.Info("[ScanService] 开始扫描素材库")
	s.cleanDeletedAssets()

	if !s.client.Ready() {
		// 模型不可用时本轮不做任何抽取，文件留到下次扫描重试
		log.Warnf("[ScanService] embedding 服务不可用，跳过本轮特征计算")
		return nil
	}

	for _, root := range s.cfg.AssetsPath {
		if _, err := os.Stat(root); err != nil {
			log.Warnf("[ScanService] 素材目录不存在，跳过: %s", root)
			continue
		}
		err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if info.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			switch {
			case contains(s.cfg.ImageExtensions, ext):
				s.scanImage(ctx, path, info)
			case contains(s.cfg.VideoExtensions, ext):
				s.scanVideo(ctx, path, info)
			}
			return nil
		})
		if err != nil {
			log.Warnf("[ScanService] 扫描中断: %v", err)
			break
		}
	}

	s.mu.Lock()
	log.Infof("[ScanService] 扫描完成: 处理 %d, 跳过 %d, 失败 %d", s.processed, s.skipped, s.failed)
	s.mu.Unlock()
	return nil
}

func (s *scanService) countProcessed() {
	s.mu.Lock()
	s.processed++
	s.mu.Unlock()
}

func (s *scanService) countSkipped() {
	s.mu.Lock()
	s.skipped++
	s.mu.Unlock()
}

func (s *scanService) countFailed() {
	s.mu.Lock()
	s.failed++
	s.mu.Unlock()
}

// cleanDeletedAssets 删除磁盘上已不存在的文件对应的记录。
func (s *scanService) cleanDeletedAssets() {
	if paths, err := s.imageRepo.FindAllPaths(); err == nil {
		for _, p := range paths {
			if _, err := os.Stat(p); os.IsNotExist(err) {
				log.Infof("[ScanService] 图片已被删除，移除记录: %s", p)
				if err := s.imageRepo.DeleteByPath(p); err != nil {
					log.Error("[ScanService] 删除图片记录失败", err)
				}
			}
		}
	}
	if paths, err := s.videoRepo.FindDistinctPaths(); err == nil {
		for _, p := range paths {
			if _, err := os.Stat(p); os.IsNotExist(err) {
				log.Infof("[ScanService] 视频已被删除，移除记录: %s", p)
				if err := s.videoRepo.DeleteByPath(p); err != nil {
					log.Error("[ScanService] 删除视频记录失败", err)
				}
			}
		}
	}
}

// scanImage 处理单张图片。未变化的文件直接跳过，不会触碰模型。
func (s *scanService) scanImage(ctx context.Context, path string, info os.FileInfo) {
	existing, err := s.imageRepo.FindByPath(path)
	if err != nil {
		log.Error("[ScanService] 查询图片记录失败", err)
		s.countFailed()
		return
	}

	checksum := ""
	if s.cfg.EnableChecksum {
		if checksum, err = fileChecksum(path); err != nil {
			log.Error("[ScanService] 计算图片校验和失败", err)
			s.countFailed()
			return
		}
	}
	if existing != nil && unchanged(existing.ModifyTime, existing.Checksum, info.ModTime(), checksum) {
		s.countSkipped()
		return
	}

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		// 解码失败只影响这一个文件
		log.Warnf("[ScanService] 打开图片失败: %s, error: %v", path, err)
		s.countFailed()
		return
	}

	bounds := img.Bounds()
	if bounds.Dx() < s.cfg.ImageMinWidth || bounds.Dy() < s.cfg.ImageMinHeight {
		// 过小的图片不建立索引
		s.countSkipped()
		return
	}

	payload, err := s.encodeJPEG(img)
	if err != nil {
		log.Warnf("[ScanService] 编码图片失败: %s, error: %v", path, err)
		s.countFailed()
		return
	}

	features, err := s.client.EmbedImages(ctx, [][]byte{payload})
	if err != nil {
		// 没拿到特征就不写任何记录，等下次扫描重试
		log.Warnf("[ScanService] 计算图片特征失败: %s, error: %v", path, err)
		s.countFailed()
		return
	}

	record := &model.Image{
		Path:         path,
		OriginalName: info.Name(),
		ModifyTime:   info.ModTime(),
		Checksum:     checksum,
		Features:     vector.Encode(features[0]),
	}
	if existing != nil {
		// 文件内容变了，旧标签作废
		record.ID = existing.ID
	}
	if err := s.imageRepo.Save(record); err != nil {
		log.Error("[ScanService] 保存图片记录失败", err)
		s.countFailed()
		return
	}
	s.countProcessed()
}

// scanVideo 处理单个视频：逐批抽帧计算特征，整体替换该路径下的旧帧记录。
func (s *scanService) scanVideo(ctx context.Context, path string, info os.FileInfo) {
	existing, err := s.videoRepo.FindFirstByPath(path)
	if err != nil {
		log.Error("[ScanService] 查询视频记录失败", err)
		s.countFailed()
		return
	}

	checksum := ""
	if s.cfg.EnableChecksum {
		if checksum, err = fileChecksum(path); err != nil {
			log.Error("[ScanService] 计算视频校验和失败", err)
			s.countFailed()
			return
		}
	}
	if existing != nil && unchanged(existing.ModifyTime, existing.Checksum, info.ModTime(), checksum) {
		s.countSkipped()
		return
	}

	log.Infof("[ScanService] 处理视频中: %s", path)
	src, err := s.openSource(path)
	if err != nil {
		log.Warnf("[ScanService] 打开视频失败: %s, error: %v", path, err)
		s.countFailed()
		return
	}
	defer src.Close()

	var frames []*model.Video
	sampler := video.NewSampler(src, s.cfg.FrameInterval, s.cfg.BatchSize)
	for {
		batch, ok := sampler.Next()
		if !ok {
			break
		}

		payloads := make([][]byte, 0, len(batch.Frames))
		times := make([]int, 0, len(batch.Times))
		for i, frame := range batch.Frames {
			payload, err := s.encodeJPEG(frame)
			if err != nil {
				log.Warnf("[ScanService] 编码视频帧失败: %s@%ds, error: %v", path, batch.Times[i], err)
				continue
			}
			payloads = append(payloads, payload)
			times = append(times, batch.Times[i])
		}
		if len(payloads) == 0 {
			continue
		}

		features, err := s.client.EmbedImages(ctx, payloads)
		if err != nil {
			// 这一批拿不到特征就跳过，不影响其它批次
			log.Warnf("[ScanService] 计算视频帧特征失败: %s, error: %v", path, err)
			continue
		}
		for i, f := range features {
			frames = append(frames, &model.Video{
				Path:         path,
				OriginalName: info.Name(),
				FrameTime:    times[i],
				ModifyTime:   info.ModTime(),
				Checksum:     checksum,
				Features:     vector.Encode(f),
			})
		}
	}

	if len(frames) == 0 {
		// 一帧特征都没拿到，保留旧记录等待重试
		log.Warnf("[ScanService] 视频没有产出任何帧特征: %s", path)
		s.countFailed()
		return
	}

	if err := s.videoRepo.ReplaceFrames(path, frames); err != nil {
		log.Error("[ScanService] 写入视频帧记录失败", err)
		s.countFailed()
		return
	}
	s.countProcessed()
}

// encodeJPEG 把解码后的图像编码为 JPEG 负载，过大的图先缩到配置的最长边，
// 避免把超大图原样发给 embedding 服务。
func (s *scanService) encodeJPEG(img image.Image) ([]byte, error) {
	if s.cfg.ImageMaxSize > 0 {
		bounds := img.Bounds()
		if bounds.Dx() > s.cfg.ImageMaxSize || bounds.Dy() > s.cfg.ImageMaxSize {
			img = imaging.Fit(img, s.cfg.ImageMaxSize, s.cfg.ImageMaxSize, imaging.Lanczos)
		}
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *scanService) AutoScan(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !inTimeWindow(time.Now(), s.cfg.AutoScanStartTime, s.cfg.AutoScanEndTime) {
				continue
			}
			if err := s.Scan(ctx); err != nil && !errors.Is(err, ErrAlreadyScanning) {
				log.Error("[ScanService] 自动扫描失败", err)
			}
		}
	}
}

// inTimeWindow 判断 now 是否落在每日时间窗口 [start, end] 内，支持跨午夜的窗口。
func inTimeWindow(now time.Time, start, end string) bool {
	parse := func(s string) (int, bool) {
		t, err := time.Parse("15:04", s)
		if err != nil {
			return 0, false
		}
		return t.Hour()*60 + t.Minute(), true
	}
	startMin, ok := parse(start)
	if !ok {
		return false
	}
	endMin, ok := parse(end)
	if !ok {
		return false
	}
	nowMin := now.Hour()*60 + now.Minute()
	if startMin <= endMin {
		return nowMin >= startMin && nowMin <= endMin
	}
	// 形如 22:30 - 08:00 的跨午夜窗口
	return nowMin >= startMin || nowMin <= endMin
}

// unchanged 判断文件自上次计算特征以来是否没有变化。
// 启用校验和时，修改时间和校验和都一致才算未变化。
func unchanged(storedTime time.Time, storedChecksum string, modTime time.Time, checksum string) bool {
	if storedTime.Unix() != modTime.Unix() {
		return false
	}
	if checksum != "" && storedChecksum != checksum {
		return false
	}
	return true
}

// fileChecksum 计算文件内容的 SHA1。
func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func contains(list []string, item string) bool {
	for _, x := range list {
		if x == item {
			return true
		}
	}
	return false
}
