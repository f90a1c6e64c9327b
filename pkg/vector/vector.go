// Package vector 提供特征向量的序列化与余弦相似度计算。
//
// 所有向量都假定已经由 embedding 服务做过 L2 归一化，
// 因此两个向量的点积就是它们的余弦相似度。
package vector

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrDimensionMismatch 表示存储的向量维度与期望维度不一致。
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Encode 将向量编码为小端序 float32 字节串，与数据库中 features 字段的格式一致。
func Encode(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}

// Decode 将 features 字段的字节串还原为向量，并校验维度。
// 维度不符是硬错误，不做截断。
func Decode(b []byte, dim int) ([]float32, error) {
	if len(b) != 4*dim {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrDimensionMismatch, len(b), 4*dim)
	}
	v := make([]float32, dim)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// Normalize 对向量做原地 L2 归一化。零向量保持不变。
func Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
}

// Dot 计算两个向量的点积。对单位向量而言即余弦相似度。
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// MatchBatch 对一批候选向量计算带阈值过滤的相似度分数。
//
// positive 为 nil 时不做正向过滤（所有候选的正向分数按最大值处理）；
// negative 为 nil 时不做反向过滤。阈值是 0-100 的分数，比较前会除以 100。
// 返回值与 candidates 顺序一一对应，0 表示该候选被过滤掉，
// 调用方必须把 0 当作排除标记而不是真实的相似度。
func MatchBatch(positive, negative []float32, candidates [][]float32, positiveThreshold, negativeThreshold float64) []float32 {
	scores := make([]float32, len(candidates))

	for i, candidate := range candidates {
		var positiveScore float32 = 1
		if positive != nil {
			positiveScore = Dot(positive, candidate)
		}
		if float64(positiveScore) < positiveThreshold/100 {
			continue
		}
		if negative != nil {
			if float64(Dot(negative, candidate)) > negativeThreshold/100 {
				continue
			}
		}
		scores[i] = positiveScore
	}
	return scores
}
