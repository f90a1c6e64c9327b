package video

import (
	"bufio"
	"bytes"
	"fmt"
	"image"
	"io"
	"math"
	"os/exec"
	"strconv"
	"strings"
)

// ffmpegSource 通过 ffmpeg 的 rawvideo 管道顺序解码视频帧。
type ffmpegSource struct {
	cmd       *exec.Cmd
	stdout    io.ReadCloser
	reader    *bufio.Reader
	width     int
	height    int
	rate      int
	total     int
	frameSize int // 一帧 RGB24 数据的字节数
}

// Open 打开一个视频文件作为帧源。需要系统中安装有 ffmpeg 和 ffprobe。
func Open(path string) (Source, error) {
	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}

	width, height, rate, total, err := probe(ffprobePath, path)
	if err != nil {
		return nil, fmt.Errorf("failed to probe video %s: %w", path, err)
	}

	cmd := exec.Command(ffmpegPath,
		"-v", "error",
		"-i", path,
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"pipe:1",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	return &ffmpegSource{
		cmd:       cmd,
		stdout:    stdout,
		reader:    bufio.NewReaderSize(stdout, 1<<20),
		width:     width,
		height:    height,
		rate:      rate,
		total:     total,
		frameSize: width * height * 3,
	}, nil
}

// probe 读取视频的几何信息、帧率和总帧数。
// 部分容器没有 nb_frames 元数据，此时用时长乘以帧率估算。
func probe(ffprobePath, path string) (width, height, rate, total int, err error) {
	cmd := exec.Command(ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate,nb_frames",
		"-show_entries", "format=duration",
		"-of", "csv=p=0",
		path,
	)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err = cmd.Run(); err != nil {
		return 0, 0, 0, 0, fmt.Errorf("ffprobe failed: %w", err)
	}

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) < 1 {
		return 0, 0, 0, 0, fmt.Errorf("empty ffprobe output")
	}
	fields := strings.Split(strings.TrimSpace(lines[0]), ",")
	if len(fields) < 3 {
		return 0, 0, 0, 0, fmt.Errorf("unexpected ffprobe output: %q", lines[0])
	}

	width, err = strconv.Atoi(fields[0])
	if err != nil {
		return 0, 0, 0, 0, fmt.Errorf("invalid width %q", fields[0])
	}
	height, err = strconv.Atoi(fields[1])
	if err != nil {
		return 0, 0, 0, 0, fmt.Errorf("invalid height %q", fields[1])
	}

	fps, err := parseFrameRate(fields[2])
	if err != nil {
		return 0, 0, 0, 0, err
	}
	rate = int(math.Round(fps))

	if len(fields) >= 4 {
		if n, convErr := strconv.Atoi(fields[3]); convErr == nil && n > 0 {
			total = n
		}
	}
	if total == 0 && len(lines) >= 2 {
		// nb_frames 缺失时退回到时长估算
		if duration, convErr := strconv.ParseFloat(strings.TrimSpace(strings.Trim(lines[1], ",")), 64); convErr == nil {
			total = int(duration * fps)
		}
	}
	if width <= 0 || height <= 0 || rate <= 0 || total <= 0 {
		return 0, 0, 0, 0, fmt.Errorf("invalid video metadata: %dx%d fps=%d frames=%d", width, height, rate, total)
	}
	return width, height, rate, total, nil
}

// parseFrameRate 解析形如 "30000/1001" 的帧率表达式。
func parseFrameRate(s string) (float64, error) {
	parts := strings.Split(s, "/")
	num, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid frame rate %q", s)
	}
	if len(parts) == 1 {
		return num, nil
	}
	den, err := strconv.ParseFloat(parts[1], 64)
	if err != nil || den == 0 {
		return 0, fmt.Errorf("invalid frame rate %q", s)
	}
	return num / den, nil
}

func (f *ffmpegSource) FrameRate() int   { return f.rate }
func (f *ffmpegSource) TotalFrames() int { return f.total }

// Read 解码下一帧。管道耗尽或读取不完整都视为流结束。
func (f *ffmpegSource) Read() (image.Image, error) {
	buf := make([]byte, f.frameSize)
	if _, err := io.ReadFull(f.reader, buf); err != nil {
		return nil, fmt.Errorf("failed to read frame: %w", err)
	}

	img := image.NewNRGBA(image.Rect(0, 0, f.width, f.height))
	for i := 0; i < f.width*f.height; i++ {
		img.Pix[i*4+0] = buf[i*3+0]
		img.Pix[i*4+1] = buf[i*3+1]
		img.Pix[i*4+2] = buf[i*3+2]
		img.Pix[i*4+3] = 0xff
	}
	return img, nil
}

// Grab 丢弃下一帧的字节，不做像素转换。
func (f *ffmpegSource) Grab() error {
	if _, err := io.CopyN(io.Discard, f.reader, int64(f.frameSize)); err != nil {
		return fmt.Errorf("failed to skip frame: %w", err)
	}
	return nil
}

func (f *ffmpegSource) Close() error {
	f.stdout.Close()
	if f.cmd.Process != nil {
		_ = f.cmd.Process.Kill()
	}
	_ = f.cmd.Wait()
	return nil
}
