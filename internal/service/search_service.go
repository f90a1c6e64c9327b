package service

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"

	"material-search-go/internal/model"
	"material-search-go/internal/repository"
	"material-search-go/pkg/embedding"
	"material-search-go/pkg/log"
	"material-search-go/pkg/vector"
)

// embeddingCachePrefix 是 Redis 中文本向量缓存键的命名空间。
const embeddingCachePrefix = "matsearch:embedding:"

// SearchOptions 是所有搜索操作共享的过滤参数。
type SearchOptions struct {
	PathFilter string     // 路径子串过滤
	StartTime  *time.Time // 按文件修改时间过滤
	EndTime    *time.Time
	TopN       int
}

// SearchService 接口定义了以文搜图/视频和以图搜图/视频操作。
type SearchService interface {
	SearchImagesByText(ctx context.Context, positive, negative string, positiveThreshold, negativeThreshold float64, opts SearchOptions) ([]model.ImageSearchResultDTO, error)
	SearchImagesByImage(ctx context.Context, image []byte, threshold float64, opts SearchOptions) ([]model.ImageSearchResultDTO, error)
	SearchVideosByText(ctx context.Context, positive, negative string, positiveThreshold, negativeThreshold float64, opts SearchOptions) ([]model.VideoSearchResultDTO, error)
	SearchVideosByImage(ctx context.Context, image []byte, threshold float64, opts SearchOptions) ([]model.VideoSearchResultDTO, error)
	// CleanCache 清空文本向量缓存。
	CleanCache(ctx context.Context) error
}

type searchService struct {
	client        embedding.Client
	rdb           *redis.Client // 可为 nil，此时不做缓存
	imageRepo     repository.ImageRepository
	videoRepo     repository.VideoRepository
	dim           int
	frameInterval int
}

// NewSearchService 创建一个新的 SearchService 实例。rdb 传 nil 时禁用向量缓存。
func NewSearchService(client embedding.Client, rdb *redis.Client,
	imageRepo repository.ImageRepository, videoRepo repository.VideoRepository,
	dim, frameInterval int) SearchService {
	return &searchService{
		client:        client,
		rdb:           rdb,
		imageRepo:     imageRepo,
		videoRepo:     videoRepo,
		dim:           dim,
		frameInterval: frameInterval,
	}
}

// textFeature 计算文本向量，优先命中 Redis 缓存。text 为空时返回 nil 向量。
func (s *searchService) textFeature(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, nil
	}

	var cacheKey string
	if s.rdb != nil {
		sum := sha1.Sum([]byte(text))
		cacheKey = embeddingCachePrefix + hex.EncodeToString(sum[:])
		if raw, err := s.rdb.Get(ctx, cacheKey).Bytes(); err == nil {
			if v, err := vector.Decode(raw, s.dim); err == nil {
				return v, nil
			}
			// 缓存内容损坏或维度过期，直接丢弃
			s.rdb.Del(ctx, cacheKey)
		}
	}

	v, err := s.client.EmbedText(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query text: %w", err)
	}

	if s.rdb != nil {
		if err := s.rdb.Set(ctx, cacheKey, vector.Encode(v), 0).Err(); err != nil {
			log.Warnf("[SearchService] 写入向量缓存失败: %v", err)
		}
	}
	return v, nil
}

// imageFeature 计算查询图片的向量。
func (s *searchService) imageFeature(ctx context.Context, image []byte) ([]float32, error) {
	features, err := s.client.EmbedImages(ctx, [][]byte{image})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query image: %w", err)
	}
	return features[0], nil
}

func (s *searchService) SearchImagesByText(ctx context.Context, positive, negative string, positiveThreshold, negativeThreshold float64, opts SearchOptions) ([]model.ImageSearchResultDTO, error) {
	positiveFeature, err := s.textFeature(ctx, positive)
	if err != nil {
		return nil, err
	}
	negativeFeature, err := s.textFeature(ctx, negative)
	if err != nil {
		return nil, err
	}
	return s.matchImages(positiveFeature, negativeFeature, positiveThreshold, negativeThreshold, opts)
}

func (s *searchService) SearchImagesByImage(ctx context.Context, image []byte, threshold float64, opts SearchOptions) ([]model.ImageSearchResultDTO, error) {
	feature, err := s.imageFeature(ctx, image)
	if err != nil {
		return nil, err
	}
	return s.matchImages(feature, nil, threshold, 0, opts)
}

func (s *searchService) SearchVideosByText(ctx context.Context, positive, negative string, positiveThreshold, negativeThreshold float64, opts SearchOptions) ([]model.VideoSearchResultDTO, error) {
	positiveFeature, err := s.textFeature(ctx, positive)
	if err != nil {
		return nil, err
	}
	negativeFeature, err := s.textFeature(ctx, negative)
	if err != nil {
		return nil, err
	}
	return s.matchVideos(positiveFeature, negativeFeature, positiveThreshold, negativeThreshold, opts)
}

func (s *searchService) SearchVideosByImage(ctx context.Context, image []byte, threshold float64, opts SearchOptions) ([]model.VideoSearchResultDTO, error) {
	feature, err := s.imageFeature(ctx, image)
	if err != nil {
		return nil, err
	}
	return s.matchVideos(feature, nil, threshold, 0, opts)
}

// matchImages 对全部图片向量做批量匹配，返回按分数降序的前 TopN 个结果。
func (s *searchService) matchImages(positive, negative []float32, positiveThreshold, negativeThreshold float64, opts SearchOptions) ([]model.ImageSearchResultDTO, error) {
	records, err := s.imageRepo.FindAllWithFeatures(opts.PathFilter, opts.StartTime, opts.EndTime)
	if err != nil {
		return nil, fmt.Errorf("failed to load image features: %w", err)
	}

	candidates := make([][]float32, 0, len(records))
	kept := make([]*model.Image, 0, len(records))
	for _, r := range records {
		v, err := vector.Decode(r.Features, s.dim)
		if err != nil {
			// 单条维度错误只废弃这一条比较
			log.Warnf("[SearchService] 图片特征维度异常, id=%d: %v", r.ID, err)
			continue
		}
		candidates = append(candidates, v)
		kept = append(kept, r)
	}

	scores := vector.MatchBatch(positive, negative, candidates, positiveThreshold, negativeThreshold)
	results := make([]model.ImageSearchResultDTO, 0)
	for i, score := range scores {
		if score == 0 {
			continue
		}
		results = append(results, model.ImageSearchResultDTO{
			ID:    kept[i].ID,
			Path:  kept[i].Path,
			Score: float64(score),
		})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if opts.TopN > 0 && len(results) > opts.TopN {
		results = results[:opts.TopN]
	}
	return results, nil
}

// matchVideos 对全部视频帧向量做批量匹配，把同一视频中连续命中的帧合并为片段。
func (s *searchService) matchVideos(positive, negative []float32, positiveThreshold, negativeThreshold float64, opts SearchOptions) ([]model.VideoSearchResultDTO, error) {
	frames, err := s.videoRepo.FindAllWithFeatures(opts.PathFilter, opts.StartTime, opts.EndTime)
	if err != nil {
		return nil, fmt.Errorf("failed to load video features: %w", err)
	}

	candidates := make([][]float32, 0, len(frames))
	kept := make([]*model.Video, 0, len(frames))
	for _, f := range frames {
		v, err := vector.Decode(f.Features, s.dim)
		if err != nil {
			log.Warnf("[SearchService] 视频帧特征维度异常, id=%d: %v", f.ID, err)
			continue
		}
		candidates = append(candidates, v)
		kept = append(kept, f)
	}

	scores := vector.MatchBatch(positive, negative, candidates, positiveThreshold, negativeThreshold)

	// 帧按 (path, frame_time) 有序，相邻命中帧间隔不超过两个采样间隔时并入同一片段
	maxGap := 2 * s.frameInterval
	var results []model.VideoSearchResultDTO
	last := -1
	for i, score := range scores {
		if score == 0 {
			continue
		}
		frame := kept[i]
		if last >= 0 && results[last].Path == frame.Path && frame.FrameTime-results[last].EndTime <= maxGap {
			results[last].EndTime = frame.FrameTime
			if float64(score) > results[last].Score {
				results[last].Score = float64(score)
			}
			continue
		}
		results = append(results, model.VideoSearchResultDTO{
			Path:      frame.Path,
			StartTime: frame.FrameTime,
			EndTime:   frame.FrameTime,
			Score:     float64(score),
		})
		last = len(results) - 1
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if opts.TopN > 0 && len(results) > opts.TopN {
		results = results[:opts.TopN]
	}
	return results, nil
}

func (s *searchService) CleanCache(ctx context.Context) error {
	if s.rdb == nil {
		return nil
	}
	keys, err := s.rdb.Keys(ctx, embeddingCachePrefix+"*").Result()
	if err != nil {
		return fmt.Errorf("failed to list cache keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete cache keys: %w", err)
	}
	log.Infof("[SearchService] 已清空 %d 条向量缓存", len(keys))
	return nil
}
