package tagging

import (
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"material-search-go/pkg/embedding"
	"material-search-go/pkg/log"
	"material-search-go/pkg/vector"
)

// Cache 持有标签词表的特征向量，进程生命周期内只加载一次。
// 向量和词表按下标严格对齐：缓存文件里第 i 个向量就是词表第 i 个标签的向量。
type Cache struct {
	vocab   []Tag
	indices []int       // 成功算出向量的词表下标
	vectors [][]float32 // 与 indices 平行
	dim     int
}

// cacheFile 是缓存文件的序列化结构。
// Vectors 长度必须等于词表长度，计算失败的标签对应空向量。
type cacheFile struct {
	Dim     int
	Vectors [][]float32
}

// ScoredTag 是一次标签匹配的单条结果。
type ScoredTag struct {
	Name  string
	Label string
	Score float64
}

// LoadCache 加载标签向量缓存。缓存文件有效（数量和维度都与当前词表一致）
// 时直接反序列化；否则调用 embedding 服务重新计算并持久化。
// 某个标签计算失败只会让它在本次运行中缺席，不会阻塞其它标签。
func LoadCache(ctx context.Context, cachePath string, dim int, vocab []Tag, client embedding.Client) (*Cache, error) {
	if vectors, err := loadFile(cachePath, dim, len(vocab)); err == nil {
		log.Infof("[TagCache] 从缓存文件加载标签向量: %s", cachePath)
		return NewCache(vocab, vectors, dim), nil
	} else if !os.IsNotExist(err) {
		log.Warnf("[TagCache] 标签向量缓存无效，将重新计算: %v", err)
	}

	vectors, err := compute(ctx, vocab, client)
	if err != nil {
		return nil, err
	}

	// 持久化失败不是致命错误，下次运行重算即可
	if err := saveFile(cachePath, dim, vectors); err != nil {
		log.Error("[TagCache] 保存标签向量缓存失败", err)
	} else {
		log.Infof("[TagCache] 标签向量已保存到: %s", cachePath)
	}
	return NewCache(vocab, vectors, dim), nil
}

// NewCache 从词表和等长的向量列表构建缓存，空向量表示该标签编码失败。
func NewCache(vocab []Tag, vectors [][]float32, dim int) *Cache {
	c := &Cache{vocab: vocab, dim: dim}
	for i, v := range vectors {
		if len(v) == 0 {
			continue
		}
		c.indices = append(c.indices, i)
		c.vectors = append(c.vectors, v)
	}
	log.Infof("[TagCache] 可用标签向量 %d/%d", len(c.vectors), len(vocab))
	return c
}

// Size 返回当前可用的标签向量数量。
func (c *Cache) Size() int {
	return len(c.vectors)
}

// TopTags 把一个素材向量与全部标签向量做一次批量相似度计算，
// 保留分数不低于 threshold 的标签，按分数降序取前 k 个。
func (c *Cache) TopTags(feature []float32, k int, threshold float64) ([]ScoredTag, error) {
	if len(feature) != c.dim {
		return nil, fmt.Errorf("%w: feature dim %d, tag dim %d", vector.ErrDimensionMismatch, len(feature), c.dim)
	}

	var scored []ScoredTag
	for i, tagVector := range c.vectors {
		score := float64(vector.Dot(feature, tagVector))
		if score < threshold {
			continue
		}
		tag := c.vocab[c.indices[i]]
		scored = append(scored, ScoredTag{Name: tag.Name, Label: tag.Label, Score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

func compute(ctx context.Context, vocab []Tag, client embedding.Client) ([][]float32, error) {
	// 等待后台探测结束再判定可用性，首次运行时探测往往还在路上
	if !client.WaitReady(ctx) {
		return nil, embedding.ErrUnavailable
	}
	log.Infof("[TagCache] 开始为 %d 个标签计算向量...", len(vocab))

	vectors := make([][]float32, len(vocab))
	success := 0
	for i, tag := range vocab {
		v, err := client.EmbedText(ctx, tag.Name)
		if err != nil {
			// 本次运行放弃该标签，不重试
			log.Warnf("[TagCache] 无法计算标签向量: %s, error: %v", tag.Name, err)
			continue
		}
		vectors[i] = v
		success++
	}
	if success == 0 {
		return nil, fmt.Errorf("no tag vector could be computed for %d tags", len(vocab))
	}

	log.Infof("[TagCache] 完成标签向量计算，共 %d/%d 个", success, len(vocab))
	return vectors, nil
}

// loadFile 反序列化缓存文件并校验数量与维度。
// 任何一项校验失败都意味着词表或模型变了，缓存必须整体作废。
func loadFile(path string, dim, vocabSize int) ([][]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cf cacheFile
	if err := gob.NewDecoder(f).Decode(&cf); err != nil {
		return nil, fmt.Errorf("failed to decode tag cache: %w", err)
	}
	if cf.Dim != dim {
		return nil, fmt.Errorf("tag cache dim %d does not match configured %d", cf.Dim, dim)
	}
	if len(cf.Vectors) != vocabSize {
		return nil, fmt.Errorf("tag cache has %d vectors, vocabulary has %d tags", len(cf.Vectors), vocabSize)
	}
	for i, v := range cf.Vectors {
		if len(v) != 0 && len(v) != dim {
			return nil, fmt.Errorf("tag cache vector %d has dim %d, want %d", i, len(v), dim)
		}
	}
	return cf.Vectors, nil
}

func saveFile(path string, dim int, vectors [][]float32) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return gob.NewEncoder(f).Encode(cacheFile{Dim: dim, Vectors: vectors})
}
