package tagging

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"material-search-go/internal/config"
	"material-search-go/pkg/embedding"
	"material-search-go/pkg/vector"
)

// fakeClient 是一个离线的 embedding 客户端，向量由标签名确定性生成。
type fakeClient struct {
	dim       int
	ready     bool
	failTags  map[string]bool
	textCalls int
}

func (f *fakeClient) Ready() bool { return f.ready }

func (f *fakeClient) WaitReady(_ context.Context) bool { return f.ready }

func (f *fakeClient) EmbedText(_ context.Context, text string) ([]float32, error) {
	f.textCalls++
	if f.failTags[text] {
		return nil, os.ErrDeadlineExceeded
	}
	v := make([]float32, f.dim)
	for i := range v {
		v[i] = float32((len(text)+i)%7) + 1
	}
	vector.Normalize(v)
	return v, nil
}

func (f *fakeClient) EmbedImages(_ context.Context, images [][]byte) ([][]float32, error) {
	out := make([][]float32, len(images))
	for i := range images {
		v := make([]float32, f.dim)
		v[0] = 1
		out[i] = v
	}
	return out, nil
}

var testVocab = []Tag{
	{"beach", "海滩"},
	{"ocean", "海洋"},
	{"city", "城市"},
}

func TestLoadCacheComputesAndPersists(t *testing.T) {
	cachePath := filepath.Join(t.TempDir(), "tag_vectors.gob")
	client := &fakeClient{dim: 4, ready: true}

	cache, err := LoadCache(context.Background(), cachePath, 4, testVocab, client)
	if err != nil {
		t.Fatalf("LoadCache 失败: %v", err)
	}
	if cache.Size() != len(testVocab) {
		t.Errorf("Size = %d, want %d", cache.Size(), len(testVocab))
	}
	if client.textCalls != len(testVocab) {
		t.Errorf("EmbedText 调用次数 = %d, want %d", client.textCalls, len(testVocab))
	}

	// 第二次加载应直接命中缓存，不再调用模型
	client2 := &fakeClient{dim: 4, ready: true}
	cache2, err := LoadCache(context.Background(), cachePath, 4, testVocab, client2)
	if err != nil {
		t.Fatalf("二次 LoadCache 失败: %v", err)
	}
	if client2.textCalls != 0 {
		t.Errorf("命中缓存时不应调用模型, 实际调用 %d 次", client2.textCalls)
	}
	if cache2.Size() != cache.Size() {
		t.Errorf("缓存加载后的向量数量不一致")
	}
}

func TestLoadCacheDropsFailedTag(t *testing.T) {
	cachePath := filepath.Join(t.TempDir(), "tag_vectors.gob")
	client := &fakeClient{dim: 4, ready: true, failTags: map[string]bool{"ocean": true}}

	cache, err := LoadCache(context.Background(), cachePath, 4, testVocab, client)
	if err != nil {
		t.Fatalf("LoadCache 失败: %v", err)
	}
	if cache.Size() != len(testVocab)-1 {
		t.Errorf("计算失败的标签应被丢弃, Size = %d, want %d", cache.Size(), len(testVocab)-1)
	}
}

func TestLoadCacheDimMismatchRecomputes(t *testing.T) {
	cachePath := filepath.Join(t.TempDir(), "tag_vectors.gob")

	// 先用维度 4 生成缓存
	_, err := LoadCache(context.Background(), cachePath, 4, testVocab, &fakeClient{dim: 4, ready: true})
	if err != nil {
		t.Fatalf("LoadCache 失败: %v", err)
	}

	// 配置维度变为 8：缓存失效，必须重新计算
	client := &fakeClient{dim: 8, ready: true}
	if _, err := LoadCache(context.Background(), cachePath, 8, testVocab, client); err != nil {
		t.Fatalf("LoadCache 失败: %v", err)
	}
	if client.textCalls != len(testVocab) {
		t.Errorf("维度不匹配时应重算, EmbedText 调用 %d 次", client.textCalls)
	}
}

func TestLoadCacheVocabChangeRecomputes(t *testing.T) {
	cachePath := filepath.Join(t.TempDir(), "tag_vectors.gob")

	_, err := LoadCache(context.Background(), cachePath, 4, testVocab[:2], &fakeClient{dim: 4, ready: true})
	if err != nil {
		t.Fatalf("LoadCache 失败: %v", err)
	}

	// 词表长度变化后缓存数量校验失败
	client := &fakeClient{dim: 4, ready: true}
	if _, err := LoadCache(context.Background(), cachePath, 4, testVocab, client); err != nil {
		t.Fatalf("LoadCache 失败: %v", err)
	}
	if client.textCalls != len(testVocab) {
		t.Errorf("词表变化时应重算, EmbedText 调用 %d 次", client.textCalls)
	}
}

func TestLoadCachePersistFailureNonFatal(t *testing.T) {
	// 把缓存路径指到一个普通文件下面，持久化必然失败
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	cachePath := filepath.Join(blocker, "sub", "tag_vectors.gob")

	cache, err := LoadCache(context.Background(), cachePath, 4, testVocab, &fakeClient{dim: 4, ready: true})
	if err != nil {
		t.Fatalf("持久化失败不应让 LoadCache 报错: %v", err)
	}
	if cache.Size() != len(testVocab) {
		t.Errorf("Size = %d, want %d", cache.Size(), len(testVocab))
	}
}

func TestTopTags(t *testing.T) {
	// 构造向量使 feature 与 beach/ocean/city 的点积分别为 0.6/0.5/0.1
	vectors := [][]float32{
		{0.6, float32(math.Sqrt(1 - 0.36))},
		{0.5, float32(math.Sqrt(1 - 0.25))},
		{0.1, float32(math.Sqrt(1 - 0.01))},
	}
	cache := NewCache(testVocab, vectors, 2)
	feature := []float32{1, 0}

	tags, err := cache.TopTags(feature, 2, 0.3)
	if err != nil {
		t.Fatalf("TopTags 失败: %v", err)
	}
	if len(tags) != 2 {
		t.Fatalf("标签数 = %d, want 2", len(tags))
	}
	if tags[0].Name != "beach" || tags[1].Name != "ocean" {
		t.Errorf("标签顺序错误: %s, %s", tags[0].Name, tags[1].Name)
	}
	if tags[0].Label != "海滩" || tags[1].Label != "海洋" {
		t.Errorf("展示标签映射错误: %s, %s", tags[0].Label, tags[1].Label)
	}
}

func TestTopTagsNoMatch(t *testing.T) {
	vectors := [][]float32{{0, 1}, {0, 1}, {0, 1}}
	cache := NewCache(testVocab, vectors, 2)

	tags, err := cache.TopTags([]float32{1, 0}, 5, 0.3)
	if err != nil {
		t.Fatalf("TopTags 失败: %v", err)
	}
	if len(tags) != 0 {
		t.Errorf("没有达到阈值的标签时应返回空列表, got %d 个", len(tags))
	}
}

func TestTopTagsDimensionMismatch(t *testing.T) {
	cache := NewCache(testVocab, [][]float32{{1, 0}, {0, 1}, {1, 0}}, 2)
	if _, err := cache.TopTags([]float32{1, 0, 0}, 5, 0.3); err == nil {
		t.Fatal("维度不一致时应返回错误")
	}
}

// 首次运行（缓存文件不存在）时，计算必须等待客户端的后台可用性检查结束，
// 而不是在检查还没跑完时就判定服务不可用。
func TestLoadCacheFirstRunWaitsForLiveService(t *testing.T) {
	const dim = 4
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []struct {
				Text  string `json:"text"`
				Image string `json:"image"`
			} `json:"input"`
			Dimensions int `json:"dimensions"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		type item struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}
		var resp struct {
			Data []item `json:"data"`
		}
		for i, in := range req.Input {
			v := make([]float32, req.Dimensions)
			v[0] = float32(len(in.Text) + 1)
			resp.Data = append(resp.Data, item{Index: i, Embedding: v})
		}
		_ = json.NewEncoder(w).Encode(&resp)
	}))
	defer srv.Close()

	client := embedding.NewClient(config.EmbeddingConfig{
		BaseURL:    srv.URL,
		Model:      "test-model",
		Dimensions: dim,
	})

	cachePath := filepath.Join(t.TempDir(), "tag_vectors.gob")
	cache, err := LoadCache(context.Background(), cachePath, dim, testVocab, client)
	if err != nil {
		t.Fatalf("对在线服务的首次运行不应失败: %v", err)
	}
	if cache.Size() != len(testVocab) {
		t.Fatalf("可用标签向量数 = %d, want %d", cache.Size(), len(testVocab))
	}
	if _, err := os.Stat(cachePath); err != nil {
		t.Fatalf("缓存文件未生成: %v", err)
	}
}
