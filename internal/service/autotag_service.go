package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"material-search-go/internal/model"
	"material-search-go/internal/repository"
	"material-search-go/internal/tagging"
	"material-search-go/pkg/log"
	"material-search-go/pkg/vector"
)

// maxVideoTags 是单个视频最终保留的标签数上限。
const maxVideoTags = 10

// maxFilenameTags 是重命名时参与文件名的标签数。
const maxFilenameTags = 3

// AutoTagOptions 控制一次打标运行的行为。
type AutoTagOptions struct {
	EnableRename  bool    // 打标后按标签重命名文件
	Threshold     float64 // 标签相似度下限，0~1
	ImageTopK     int     // 每张图片保留的标签数
	VideoTopK     int     // 每帧参与统计的标签数
	MinOccurrence int     // 视频标签跨帧出现次数下限
}

// AutoTagResult 汇总一次打标运行的计数。
type AutoTagResult struct {
	Processed int // 成功写入标签的素材数
	Skipped   int // 无标签命中而跳过的素材数，下次运行会重试
	Failed    int // 出错的素材数
}

// AutoTagService 接口定义了批量自动打标和重命名操作。
type AutoTagService interface {
	TagImages(ctx context.Context) (AutoTagResult, error)
	TagVideos(ctx context.Context) (AutoTagResult, error)
	// Reset 清空全部打标状态，之后所有素材都会被重新打标。
	Reset() error
}

type autoTagService struct {
	cache     *tagging.Cache
	imageRepo repository.ImageRepository
	videoRepo repository.VideoRepository
	dim       int
	opts      AutoTagOptions
}

// NewAutoTagService 创建一个新的 AutoTagService 实例。
func NewAutoTagService(cache *tagging.Cache, imageRepo repository.ImageRepository,
	videoRepo repository.VideoRepository, dim int, opts AutoTagOptions) AutoTagService {
	return &autoTagService{
		cache:     cache,
		imageRepo: imageRepo,
		videoRepo: videoRepo,
		dim:       dim,
		opts:      opts,
	}
}

func (s *autoTagService) TagImages(ctx context.Context) (AutoTagResult, error) {
	var result AutoTagResult
	images, err := s.imageRepo.FindUntagged()
	if err != nil {
		return result, fmt.Errorf("failed to load untagged images: %w", err)
	}
	log.Infof("[AutoTagService] 待打标图片 %d 张", len(images))

	for _, img := range images {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		feature, err := vector.Decode(img.Features, s.dim)
		if err != nil {
			log.Warnf("[AutoTagService] 图片特征异常, id=%d: %v", img.ID, err)
			result.Failed++
			continue
		}
		scored, err := s.cache.TopTags(feature, s.opts.ImageTopK, s.opts.Threshold)
		if err != nil {
			log.Warnf("[AutoTagService] 图片打标失败, id=%d: %v", img.ID, err)
			result.Failed++
			continue
		}
		if len(scored) == 0 {
			// 无命中不落库，保持未打标状态等待下次重试
			result.Skipped++
			continue
		}

		labels := make([]string, 0, len(scored))
		for _, t := range scored {
			labels = append(labels, t.Label)
		}
		tags, err := json.Marshal(labels)
		if err != nil {
			result.Failed++
			continue
		}
		if err := s.imageRepo.UpdateTags(img.ID, string(tags), model.TagStateTagged); err != nil {
			log.Errorf("[AutoTagService] 写入图片标签失败, id=%d: %v", img.ID, err)
			result.Failed++
			continue
		}
		result.Processed++

		if s.opts.EnableRename {
			s.renameImage(img, labels)
		}
	}
	return result, nil
}

func (s *autoTagService) TagVideos(ctx context.Context) (AutoTagResult, error) {
	var result AutoTagResult
	paths, err := s.videoRepo.FindUntaggedPaths()
	if err != nil {
		return result, fmt.Errorf("failed to load untagged videos: %w", err)
	}
	log.Infof("[AutoTagService] 待打标视频 %d 个", len(paths))

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		labels, err := s.videoLabels(path)
		if err != nil {
			log.Warnf("[AutoTagService] 视频打标失败, path=%s: %v", path, err)
			result.Failed++
			continue
		}
		if len(labels) == 0 {
			result.Skipped++
			continue
		}

		tags, err := json.Marshal(labels)
		if err != nil {
			result.Failed++
			continue
		}
		if err := s.videoRepo.UpdateTagsByPath(path, string(tags), model.TagStateTagged); err != nil {
			log.Errorf("[AutoTagService] 写入视频标签失败, path=%s: %v", path, err)
			result.Failed++
			continue
		}
		result.Processed++

		if s.opts.EnableRename {
			s.renameVideo(path, labels)
		}
	}
	return result, nil
}

// videoLabels 对视频的每一帧单独打标，再跨帧统计标签出现次数，
// 只保留出现次数达到下限的标签，按次数降序取前若干个。
func (s *autoTagService) videoLabels(path string) ([]string, error) {
	frames, err := s.videoRepo.FindFramesByPath(path)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	order := make(map[string]int) // 首次出现位置，用于同次数时的稳定排序
	for _, frame := range frames {
		feature, err := vector.Decode(frame.Features, s.dim)
		if err != nil {
			log.Warnf("[AutoTagService] 视频帧特征异常, id=%d: %v", frame.ID, err)
			continue
		}
		scored, err := s.cache.TopTags(feature, s.opts.VideoTopK, s.opts.Threshold)
		if err != nil {
			return nil, err
		}
		for _, t := range scored {
			if _, ok := counts[t.Label]; !ok {
				order[t.Label] = len(order)
			}
			counts[t.Label]++
		}
	}

	labels := make([]string, 0, len(counts))
	for label, n := range counts {
		if n >= s.opts.MinOccurrence {
			labels = append(labels, label)
		}
	}
	sort.SliceStable(labels, func(i, j int) bool {
		if counts[labels[i]] != counts[labels[j]] {
			return counts[labels[i]] > counts[labels[j]]
		}
		return order[labels[i]] < order[labels[j]]
	})
	if len(labels) > maxVideoTags {
		labels = labels[:maxVideoTags]
	}
	return labels, nil
}

func (s *autoTagService) renameImage(img *model.Image, labels []string) {
	newPath, ok := generateFilename(img.Path, labels)
	if !ok {
		return
	}
	// 先移动文件再更新数据库；移动失败时路径保持原值，只记录失败状态
	if err := os.Rename(img.Path, newPath); err != nil {
		log.Warnf("[AutoTagService] 重命名失败, path=%s: %v", img.Path, err)
		if err := s.imageRepo.UpdateTagState(img.ID, model.TagStateRenameFailed); err != nil {
			log.Errorf("[AutoTagService] 更新打标状态失败, id=%d: %v", img.ID, err)
		}
		return
	}
	if err := s.imageRepo.UpdatePath(img.ID, newPath); err != nil {
		log.Errorf("[AutoTagService] 文件已移动但路径更新失败, id=%d, newPath=%s: %v", img.ID, newPath, err)
	}
}

func (s *autoTagService) renameVideo(path string, labels []string) {
	newPath, ok := generateFilename(path, labels)
	if !ok {
		return
	}
	if err := os.Rename(path, newPath); err != nil {
		log.Warnf("[AutoTagService] 重命名失败, path=%s: %v", path, err)
		if err := s.videoRepo.UpdateTagStateByPath(path, model.TagStateRenameFailed); err != nil {
			log.Errorf("[AutoTagService] 更新打标状态失败, path=%s: %v", path, err)
		}
		return
	}
	if err := s.videoRepo.UpdatePathByPath(path, newPath); err != nil {
		log.Errorf("[AutoTagService] 文件已移动但路径更新失败, path=%s, newPath=%s: %v", path, newPath, err)
	}
}

func (s *autoTagService) Reset() error {
	if err := s.imageRepo.ResetTagState(); err != nil {
		return fmt.Errorf("failed to reset image tag state: %w", err)
	}
	if err := s.videoRepo.ResetTagState(); err != nil {
		return fmt.Errorf("failed to reset video tag state: %w", err)
	}
	return nil
}

// 标签可能是中英文混排，只去掉文件名里不安全的符号，保留各语言文字
var unsafeChars = regexp.MustCompile(`[^\p{L}\p{N}_\s-]`)
var separators = regexp.MustCompile(`[-\s]+`)

// generateFilename 用前几个标签拼出同目录下的新文件名，自动避开已存在的文件。
// 标签清洗后为空、或新文件名与原文件名相同时返回 (_, false) 表示无需重命名。
func generateFilename(oldPath string, labels []string) (string, bool) {
	if len(labels) > maxFilenameTags {
		labels = labels[:maxFilenameTags]
	}
	base := strings.Join(labels, "_")
	base = unsafeChars.ReplaceAllString(base, "")
	base = separators.ReplaceAllString(base, "_")
	base = strings.Trim(base, "_")
	if base == "" {
		return "", false
	}

	dir := filepath.Dir(oldPath)
	ext := filepath.Ext(oldPath)
	candidate := filepath.Join(dir, base+ext)
	for i := 1; ; i++ {
		if candidate == oldPath {
			return "", false
		}
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, true
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s_%d%s", base, i, ext))
	}
}
