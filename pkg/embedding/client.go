// Package embedding 提供访问 CLIP Embedding 服务的客户端。
//
// 服务端是一个 OpenAI 兼容的多模态 embeddings 接口：文本直接作为输入，
// 图片以 base64 编码后作为输入。客户端返回的向量都做过 L2 归一化，
// 下游可以直接用点积计算余弦相似度。
package embedding

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"material-search-go/internal/config"
	"material-search-go/pkg/log"
	"material-search-go/pkg/vector"
)

// ErrUnavailable 表示 embedding 服务未就绪，所有抽取调用都会降级为"无特征"。
var ErrUnavailable = errors.New("embedding service unavailable")

// Client 定义特征抽取能力的接口。
type Client interface {
	// EmbedText 计算一段文本的特征向量。
	EmbedText(ctx context.Context, text string) ([]float32, error)
	// EmbedImages 批量计算图片（JPEG/PNG 字节）的特征向量，
	// 返回值与输入顺序一一对应。
	EmbedImages(ctx context.Context, images [][]byte) ([][]float32, error)
	// Ready 报告服务是否可用。不可用时搜索和打标功能被禁用，但进程继续运行。
	Ready() bool
	// WaitReady 阻塞等待后台探测结束，返回服务是否可用。
	// 批处理入口（打标 CLI）在首次计算前用它避免和异步探测竞争；
	// ctx 结束时提前返回当前状态。
	WaitReady(ctx context.Context) bool
}

type openAICompatibleClient struct {
	cfg       config.EmbeddingConfig
	client    *http.Client
	ready     atomic.Bool
	probeDone chan struct{}
}

// NewClient 创建 embedding 客户端并在后台探测服务可用性。
// 探测失败不阻止进程启动，调用方通过 Ready 检查状态。
func NewClient(cfg config.EmbeddingConfig) Client {
	c := &openAICompatibleClient{
		cfg:       cfg,
		client:    &http.Client{Timeout: 120 * time.Second},
		probeDone: make(chan struct{}),
	}
	go c.probe()
	return c
}

// probe 带重试地探测 embedding 服务，等待时间逐次递增。
func (c *openAICompatibleClient) probe() {
	defer close(c.probeDone)
	const maxRetries = 3
	for attempt := 1; attempt <= maxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		_, err := c.embed(ctx, []embeddingInput{{Text: "ping"}})
		cancel()
		if err == nil {
			c.ready.Store(true)
			log.Infof("[EmbeddingClient] 服务就绪, model: %s, dimensions: %d", c.cfg.Model, c.cfg.Dimensions)
			return
		}
		log.Warnf("[EmbeddingClient] 服务探测失败 (尝试 %d/%d): %v", attempt, maxRetries, err)
		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * 15 * time.Second)
		}
	}
	log.Errorf("[EmbeddingClient] 服务不可用，搜索和打标功能将被禁用")
}

func (c *openAICompatibleClient) Ready() bool {
	return c.ready.Load()
}

func (c *openAICompatibleClient) WaitReady(ctx context.Context) bool {
	select {
	case <-c.probeDone:
	case <-ctx.Done():
	}
	return c.ready.Load()
}

type embeddingInput struct {
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"` // base64 编码的图片数据
}

type embeddingRequest struct {
	Model      string           `json:"model"`
	Input      []embeddingInput `json:"input"`
	Dimensions int              `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// EmbedText 调用 embedding 服务获取文本向量。
func (c *openAICompatibleClient) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if !c.Ready() {
		return nil, ErrUnavailable
	}
	if text == "" {
		return nil, fmt.Errorf("empty text")
	}

	vectors, err := c.embed(ctx, []embeddingInput{{Text: text}})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedImages 调用 embedding 服务批量获取图片向量。
func (c *openAICompatibleClient) EmbedImages(ctx context.Context, images [][]byte) ([][]float32, error) {
	if !c.Ready() {
		return nil, ErrUnavailable
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("empty image batch")
	}

	inputs := make([]embeddingInput, len(images))
	for i, img := range images {
		inputs[i] = embeddingInput{Image: base64.StdEncoding.EncodeToString(img)}
	}
	return c.embed(ctx, inputs)
}

func (c *openAICompatibleClient) embed(ctx context.Context, inputs []embeddingInput) ([][]float32, error) {
	reqBody := embeddingRequest{
		Model:      c.cfg.Model,
		Input:      inputs,
		Dimensions: c.cfg.Dimensions,
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/embeddings", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call embedding api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding api returned non-200 status: %s", resp.Status)
	}

	var embeddingResp embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embeddingResp); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}

	if len(embeddingResp.Data) != len(inputs) {
		return nil, fmt.Errorf("embedding api returned %d vectors, want %d", len(embeddingResp.Data), len(inputs))
	}

	// 按 index 还原顺序，并逐个校验维度、做归一化
	vectors := make([][]float32, len(inputs))
	for _, item := range embeddingResp.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding api returned out-of-range index %d", item.Index)
		}
		if len(item.Embedding) != c.cfg.Dimensions {
			return nil, fmt.Errorf("%w: got %d, want %d", vector.ErrDimensionMismatch, len(item.Embedding), c.cfg.Dimensions)
		}
		vector.Normalize(item.Embedding)
		vectors[item.Index] = item.Embedding
	}
	for i, v := range vectors {
		if v == nil {
			return nil, fmt.Errorf("embedding api response missing index %d", i)
		}
	}
	return vectors, nil
}
