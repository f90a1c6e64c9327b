package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"material-search-go/internal/model"
	"material-search-go/internal/repository"
	"material-search-go/internal/tagging"
)

var testVocab = []tagging.Tag{
	{Name: "beach", Label: "海滩"},
	{Name: "city", Label: "城市"},
	{Name: "sunset", Label: "日落"},
}

// newTagCache 构建一个 3 标签、2 维的缓存：海滩 [1,0]，城市 [0,1]，日落 [0.6,0.8]。
func newTagCache() *tagging.Cache {
	return tagging.NewCache(testVocab, [][]float32{
		{1, 0},
		{0, 1},
		{0.6, 0.8},
	}, 2)
}

func newAutoTagFixture(t *testing.T, opts AutoTagOptions) (AutoTagService, repository.ImageRepository, repository.VideoRepository) {
	t.Helper()
	db := newTestDB(t)
	imageRepo := repository.NewImageRepository(db)
	videoRepo := repository.NewVideoRepository(db)
	svc := NewAutoTagService(newTagCache(), imageRepo, videoRepo, 2, opts)
	return svc, imageRepo, videoRepo
}

func defaultTagOptions() AutoTagOptions {
	return AutoTagOptions{
		Threshold:     0.3,
		ImageTopK:     5,
		VideoTopK:     3,
		MinOccurrence: 2,
	}
}

func TestTagImages(t *testing.T) {
	svc, imageRepo, _ := newAutoTagFixture(t, defaultTagOptions())
	saveImage(t, imageRepo, "/assets/a.jpg", []float32{1, 0})

	result, err := svc.TagImages(context.Background())
	if err != nil {
		t.Fatalf("tag images failed: %v", err)
	}
	if result.Processed != 1 || result.Skipped != 0 || result.Failed != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}

	img, err := imageRepo.FindByPath("/assets/a.jpg")
	if err != nil || img == nil {
		t.Fatalf("failed to reload image: %v", err)
	}
	if img.TagState != model.TagStateTagged {
		t.Fatalf("expected tagged state, got %d", img.TagState)
	}
	// 海滩 1.0 和 日落 0.6 在阈值之上，城市 0 在阈值之下
	if img.Tags != `["海滩","日落"]` {
		t.Fatalf("unexpected tags: %s", img.Tags)
	}
}

func TestTagImagesNoMatchIsRetryable(t *testing.T) {
	svc, imageRepo, _ := newAutoTagFixture(t, AutoTagOptions{
		Threshold: 0.99, ImageTopK: 5, VideoTopK: 3, MinOccurrence: 2,
	})
	saveImage(t, imageRepo, "/assets/a.jpg", []float32{0.5, 0.5})

	result, err := svc.TagImages(context.Background())
	if err != nil {
		t.Fatalf("tag images failed: %v", err)
	}
	if result.Skipped != 1 || result.Processed != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}

	// 无命中不落库，下次运行还会被选中
	untagged, err := imageRepo.FindUntagged()
	if err != nil {
		t.Fatalf("failed to query untagged: %v", err)
	}
	if len(untagged) != 1 {
		t.Fatalf("expected image to remain untagged, got %d", len(untagged))
	}
}

func TestTagImagesSkipsAlreadyTagged(t *testing.T) {
	svc, imageRepo, _ := newAutoTagFixture(t, defaultTagOptions())
	saveImage(t, imageRepo, "/assets/a.jpg", []float32{1, 0})

	if _, err := svc.TagImages(context.Background()); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	result, err := svc.TagImages(context.Background())
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if result.Processed != 0 {
		t.Fatalf("already-tagged image was reprocessed: %+v", result)
	}
}

func TestTagVideosAggregatesAcrossFrames(t *testing.T) {
	svc, _, videoRepo := newAutoTagFixture(t, defaultTagOptions())

	beach := []float32{1, 0}
	city := []float32{0, 1}
	frames := []*model.Video{
		frameRow("/assets/v.mp4", 0, beach),
		frameRow("/assets/v.mp4", 2, beach),
		frameRow("/assets/v.mp4", 4, beach),
		frameRow("/assets/v.mp4", 6, city),
	}
	if err := videoRepo.ReplaceFrames("/assets/v.mp4", frames); err != nil {
		t.Fatalf("failed to seed frames: %v", err)
	}

	result, err := svc.TagVideos(context.Background())
	if err != nil {
		t.Fatalf("tag videos failed: %v", err)
	}
	if result.Processed != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}

	row, err := videoRepo.FindFirstByPath("/assets/v.mp4")
	if err != nil || row == nil {
		t.Fatalf("failed to reload video: %v", err)
	}
	// 日落在全部 4 帧都是命中标签，海滩命中 3 帧，城市只出现 1 次被过滤
	if row.Tags != `["日落","海滩"]` {
		t.Fatalf("unexpected tags: %s", row.Tags)
	}
	if row.TagState != model.TagStateTagged {
		t.Fatalf("expected tagged state, got %d", row.TagState)
	}

	// 所有帧行都要带上同样的标签
	all, _ := videoRepo.FindFramesByPath("/assets/v.mp4")
	for _, f := range all {
		if f.Tags != row.Tags || f.TagState != model.TagStateTagged {
			t.Fatalf("frame %d not updated consistently: %+v", f.FrameTime, f)
		}
	}
}

func TestRenameOnTag(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "IMG_1234.jpg")
	if err := os.WriteFile(path, []byte("jpeg"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	opts := defaultTagOptions()
	opts.EnableRename = true
	svc, imageRepo, _ := newAutoTagFixture(t, opts)
	saveImage(t, imageRepo, path, []float32{1, 0})

	if _, err := svc.TagImages(context.Background()); err != nil {
		t.Fatalf("tag images failed: %v", err)
	}

	newPath := filepath.Join(dir, "海滩_日落.jpg")
	if _, err := os.Stat(newPath); err != nil {
		t.Fatalf("expected renamed file at %s: %v", newPath, err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("old file still present: %v", err)
	}

	img, err := imageRepo.FindByPath(newPath)
	if err != nil || img == nil {
		t.Fatalf("expected record under new path, got %v, err %v", img, err)
	}
	if img.TagState != model.TagStateTagged {
		t.Fatalf("unexpected tag state: %d", img.TagState)
	}
}

func TestRenameFailureKeepsStoredPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missing.jpg")
	// 文件故意不存在，重命名一定失败

	opts := defaultTagOptions()
	opts.EnableRename = true
	svc, imageRepo, _ := newAutoTagFixture(t, opts)
	saveImage(t, imageRepo, path, []float32{1, 0})

	result, err := svc.TagImages(context.Background())
	if err != nil {
		t.Fatalf("tag images failed: %v", err)
	}
	if result.Processed != 1 {
		t.Fatalf("tagging itself should succeed: %+v", result)
	}

	img, err := imageRepo.FindByPath(path)
	if err != nil || img == nil {
		t.Fatalf("stored path must stay unchanged after failed rename, got %v, err %v", img, err)
	}
	if img.TagState != model.TagStateRenameFailed {
		t.Fatalf("expected rename-failed state, got %d", img.TagState)
	}
	if img.Tags != `["海滩","日落"]` {
		t.Fatalf("tags should survive a failed rename: %s", img.Tags)
	}
}

func TestReset(t *testing.T) {
	svc, imageRepo, _ := newAutoTagFixture(t, defaultTagOptions())
	saveImage(t, imageRepo, "/assets/a.jpg", []float32{1, 0})

	if _, err := svc.TagImages(context.Background()); err != nil {
		t.Fatalf("tag images failed: %v", err)
	}
	if err := svc.Reset(); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	untagged, err := imageRepo.FindUntagged()
	if err != nil {
		t.Fatalf("failed to query untagged: %v", err)
	}
	if len(untagged) != 1 {
		t.Fatalf("expected image to be untagged after reset, got %d", len(untagged))
	}
}

func TestGenerateFilename(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "clip.mp4")

	got, ok := generateFilename(oldPath, []string{"beach", "sunset", "person", "extra"})
	if !ok || got != filepath.Join(dir, "beach_sunset_person.mp4") {
		t.Fatalf("unexpected filename: %q, ok=%v", got, ok)
	}

	// 不安全的符号被去掉，中文保留，空白折叠成下划线
	got, ok = generateFilename(oldPath, []string{"海滩/夕阳", "city: lights"})
	if !ok || got != filepath.Join(dir, "海滩夕阳_city_lights.mp4") {
		t.Fatalf("unexpected sanitized filename: %q, ok=%v", got, ok)
	}

	// 清洗后为空时放弃重命名
	if _, ok := generateFilename(oldPath, []string{"///", "***"}); ok {
		t.Fatal("expected no rename for unusable labels")
	}

	// 目标和原路径相同等于没有重命名
	same := filepath.Join(dir, "海滩.mp4")
	if _, ok := generateFilename(same, []string{"海滩"}); ok {
		t.Fatal("expected no rename when the name would not change")
	}
}

func TestGenerateFilenameAvoidsCollision(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "clip.mp4")
	if err := os.WriteFile(filepath.Join(dir, "beach_sunset_person.mp4"), nil, 0o644); err != nil {
		t.Fatalf("failed to create colliding file: %v", err)
	}

	got, ok := generateFilename(oldPath, []string{"beach", "sunset", "person"})
	if !ok || got != filepath.Join(dir, "beach_sunset_person_1.mp4") {
		t.Fatalf("expected numbered suffix, got %q, ok=%v", got, ok)
	}
}
