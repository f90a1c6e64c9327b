// Package video 实现视频的等间隔抽帧。
package video

import (
	"image"
)

// Source 是一个可顺序解码的视频源。
// Read 解码下一帧，Grab 跳过下一帧（不做像素解码，用于高效跳帧）。
type Source interface {
	// FrameRate 返回四舍五入后的帧率。
	FrameRate() int
	// TotalFrames 返回视频总帧数。
	TotalFrames() int
	Read() (image.Image, error)
	Grab() error
	Close() error
}

// Batch 是一批采样帧。Times[i] 是 Frames[i] 在视频中的时间点（整秒）。
type Batch struct {
	Times  []int
	Frames []image.Image
}

// Sampler 按固定时间间隔从视频源中抽帧，按批产出。
//
// 序列是有限且不可重放的：消费完或中途解码失败后，Next 永远返回 false，
// 重新采样需要重新打开视频源。解码失败只会提前结束序列，
// 已经产出的批次仍然有效。
type Sampler struct {
	src       Source
	rate      int
	total     int
	step      int // 相邻两个采样点之间的帧数
	batchSize int
	current   int // 下一个采样点的绝对帧号
	done      bool
}

// NewSampler 创建一个抽帧器。intervalSec 为相邻采样帧的时间间隔（秒），
// batchSize 为单批最大帧数，用于限制长视频的内存占用。
func NewSampler(src Source, intervalSec, batchSize int) *Sampler {
	s := &Sampler{
		src:       src,
		rate:      src.FrameRate(),
		total:     src.TotalFrames(),
		batchSize: batchSize,
	}
	if s.rate <= 0 || s.total <= 0 || intervalSec <= 0 || batchSize <= 0 {
		s.done = true
		return s
	}
	s.step = intervalSec * s.rate
	return s
}

// Next 返回下一批采样帧。批次填满即产出；视频耗尽时产出最后的不满批。
// 返回 false 表示没有更多帧。
func (s *Sampler) Next() (Batch, bool) {
	if s.done {
		return Batch{}, false
	}

	var batch Batch
	for s.current < s.total {
		frame, err := s.src.Read()
		if err != nil {
			// 解码失败：提前结束序列，而不是让错误波及已产出的数据
			s.done = true
			break
		}
		batch.Times = append(batch.Times, s.current/s.rate)
		batch.Frames = append(batch.Frames, frame)

		// 跳帧到下一个采样点。直接丢弃字节比逐帧解码快得多。
		for i := 0; i < s.step-1; i++ {
			if err := s.src.Grab(); err != nil {
				s.done = true
				break
			}
		}
		s.current += s.step

		if len(batch.Frames) == s.batchSize {
			return batch, true
		}
		if s.done {
			break
		}
	}

	s.done = true
	if len(batch.Frames) == 0 {
		return Batch{}, false
	}
	return batch, true
}
