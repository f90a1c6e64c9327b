package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"material-search-go/internal/model"
)

// VideoRepository 定义了对 video 表的数据操作接口。
// 一个视频对应多行帧记录，对整个视频的更新必须覆盖该 path 下的所有行。
type VideoRepository interface {
	// FindFirstByPath 返回该路径的任意一帧记录，用于变更检测；未找到时返回 (nil, nil)。
	FindFirstByPath(path string) (*model.Video, error)
	// FindFramesByPath 返回该路径的全部帧记录，按 frame_time 升序。
	FindFramesByPath(path string) ([]*model.Video, error)
	FindAllWithFeatures(pathFilter string, startTime, endTime *time.Time) ([]*model.Video, error)
	FindDistinctPaths() ([]string, error)
	FindUntaggedPaths() ([]string, error)
	// ReplaceFrames 在一个事务中删除该路径的旧帧并写入新帧，
	// 保证读取方不会看到新旧帧混杂的中间状态。
	ReplaceFrames(path string, frames []*model.Video) error
	// UpdateTagsByPath 更新该路径全部帧的标签，整体成功或整体失败。
	UpdateTagsByPath(path string, tags string, tagState int) error
	UpdatePathByPath(oldPath, newPath string) error
	UpdateTagStateByPath(path string, tagState int) error
	DeleteByPath(path string) error
	ResetTagState() error
	Count() (int64, error)
}

type videoRepository struct {
	db *gorm.DB
}

// NewVideoRepository 创建一个新的 VideoRepository 实例。
func NewVideoRepository(db *gorm.DB) VideoRepository {
	return &videoRepository{db: db}
}

func (r *videoRepository) FindFirstByPath(path string) (*model.Video, error) {
	var video model.Video
	err := r.db.Where("path = ?", path).First(&video).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &video, nil
}

func (r *videoRepository) FindFramesByPath(path string) ([]*model.Video, error) {
	var frames []*model.Video
	err := r.db.Where("path = ?", path).Order("frame_time ASC").Find(&frames).Error
	return frames, err
}

func (r *videoRepository) FindAllWithFeatures(pathFilter string, startTime, endTime *time.Time) ([]*model.Video, error) {
	var frames []*model.Video
	query := r.db.Where("features IS NOT NULL")
	if pathFilter != "" {
		query = query.Where("path LIKE ?", "%"+pathFilter+"%")
	}
	if startTime != nil {
		query = query.Where("modify_time >= ?", *startTime)
	}
	if endTime != nil {
		query = query.Where("modify_time <= ?", *endTime)
	}
	err := query.Order("path, frame_time ASC").Find(&frames).Error
	return frames, err
}

func (r *videoRepository) FindDistinctPaths() ([]string, error) {
	var paths []string
	err := r.db.Model(&model.Video{}).Distinct("path").Pluck("path", &paths).Error
	return paths, err
}

func (r *videoRepository) FindUntaggedPaths() ([]string, error) {
	var paths []string
	err := r.db.Model(&model.Video{}).
		Where("tag_state = ? AND features IS NOT NULL", model.TagStateUntagged).
		Distinct("path").Pluck("path", &paths).Error
	return paths, err
}

func (r *videoRepository) ReplaceFrames(path string, frames []*model.Video) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("path = ?", path).Delete(&model.Video{}).Error; err != nil {
			return err
		}
		if len(frames) == 0 {
			return nil
		}
		return tx.CreateInBatches(frames, 100).Error
	})
}

func (r *videoRepository) UpdateTagsByPath(path string, tags string, tagState int) error {
	return r.db.Model(&model.Video{}).Where("path = ?", path).
		Updates(map[string]interface{}{"tags": tags, "tag_state": tagState}).Error
}

func (r *videoRepository) UpdatePathByPath(oldPath, newPath string) error {
	return r.db.Model(&model.Video{}).Where("path = ?", oldPath).Update("path", newPath).Error
}

func (r *videoRepository) UpdateTagStateByPath(path string, tagState int) error {
	return r.db.Model(&model.Video{}).Where("path = ?", path).Update("tag_state", tagState).Error
}

func (r *videoRepository) DeleteByPath(path string) error {
	return r.db.Where("path = ?", path).Delete(&model.Video{}).Error
}

func (r *videoRepository) ResetTagState() error {
	return r.db.Model(&model.Video{}).Where("1 = 1").
		Updates(map[string]interface{}{"tags": "", "tag_state": model.TagStateUntagged}).Error
}

func (r *videoRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&model.Video{}).Count(&count).Error
	return count, err
}
