package video

import (
	"fmt"
	"image"
	"testing"
)

// fakeSource 模拟一个可顺序解码的视频源。
type fakeSource struct {
	rate      int
	total     int
	pos       int
	failAfter int // 解码这么多次之后 Read 开始报错，0 表示不报错
	reads     int
	grabs     int
}

func (f *fakeSource) FrameRate() int   { return f.rate }
func (f *fakeSource) TotalFrames() int { return f.total }

func (f *fakeSource) Read() (image.Image, error) {
	if f.pos >= f.total {
		return nil, fmt.Errorf("end of stream")
	}
	if f.failAfter > 0 && f.reads >= f.failAfter {
		return nil, fmt.Errorf("decode error")
	}
	f.pos++
	f.reads++
	return image.NewNRGBA(image.Rect(0, 0, 1, 1)), nil
}

func (f *fakeSource) Grab() error {
	if f.pos >= f.total {
		return fmt.Errorf("end of stream")
	}
	f.pos++
	f.grabs++
	return nil
}

func (f *fakeSource) Close() error { return nil }

func collect(s *Sampler) []Batch {
	var batches []Batch
	for {
		b, ok := s.Next()
		if !ok {
			break
		}
		batches = append(batches, b)
	}
	return batches
}

// 240 帧、24fps、间隔 2 秒时，采样点应为帧 0/48/96/144/192，
// 对应时间点 0/2/4/6/8。
func TestSamplerDeterminism(t *testing.T) {
	src := &fakeSource{rate: 24, total: 240}
	batches := collect(NewSampler(src, 2, 6))

	if len(batches) != 1 {
		t.Fatalf("期望 1 批, got %d", len(batches))
	}
	want := []int{0, 2, 4, 6, 8}
	got := batches[0].Times
	if len(got) != len(want) {
		t.Fatalf("采样数 = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Times[%d] = %d, want %d", i, got[i], want[i])
		}
	}
	if src.reads != 5 {
		t.Errorf("解码次数 = %d, want 5（中间帧应当跳过而不是解码）", src.reads)
	}
}

func TestSamplerBatching(t *testing.T) {
	// 10 个采样点，每批最多 4 帧 -> 4 + 4 + 2
	src := &fakeSource{rate: 10, total: 100}
	batches := collect(NewSampler(src, 1, 4))

	wantSizes := []int{4, 4, 2}
	if len(batches) != len(wantSizes) {
		t.Fatalf("批次数 = %d, want %d", len(batches), len(wantSizes))
	}
	for i, b := range batches {
		if len(b.Frames) != wantSizes[i] {
			t.Errorf("第 %d 批大小 = %d, want %d", i, len(b.Frames), wantSizes[i])
		}
		if len(b.Times) != len(b.Frames) {
			t.Errorf("第 %d 批 Times 和 Frames 数量不一致", i)
		}
	}
}

// 中途解码失败时序列提前结束，已读出的帧作为最后一批产出。
func TestSamplerEarlyTermination(t *testing.T) {
	src := &fakeSource{rate: 10, total: 100, failAfter: 3}
	batches := collect(NewSampler(src, 1, 10))

	if len(batches) != 1 {
		t.Fatalf("批次数 = %d, want 1", len(batches))
	}
	if len(batches[0].Frames) != 3 {
		t.Errorf("最后一批帧数 = %d, want 3", len(batches[0].Frames))
	}
}

// 序列不可重放：消费完之后 Next 永远返回 false。
func TestSamplerNotRestartable(t *testing.T) {
	src := &fakeSource{rate: 10, total: 30}
	s := NewSampler(src, 1, 10)
	collect(s)

	if _, ok := s.Next(); ok {
		t.Fatal("消费完后 Next 仍返回 true")
	}
}

func TestSamplerInvalidSource(t *testing.T) {
	src := &fakeSource{rate: 0, total: 100}
	if _, ok := NewSampler(src, 1, 10).Next(); ok {
		t.Fatal("帧率为 0 的源不应产出任何批次")
	}
}
