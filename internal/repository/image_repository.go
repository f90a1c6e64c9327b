// Package repository 封装了对素材数据库的所有数据操作。
package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"material-search-go/internal/model"
)

// ImageRepository 定义了对 image 表的数据操作接口。
type ImageRepository interface {
	FindByID(id uint) (*model.Image, error)
	// FindByPath 按路径查找记录，未找到时返回 (nil, nil)。
	FindByPath(path string) (*model.Image, error)
	// FindAllWithFeatures 返回所有带特征向量的记录，可按路径子串和修改时间范围过滤。
	FindAllWithFeatures(pathFilter string, startTime, endTime *time.Time) ([]*model.Image, error)
	FindUntagged() ([]*model.Image, error)
	FindAllPaths() ([]string, error)
	Save(image *model.Image) error
	UpdateTags(id uint, tags string, tagState int) error
	UpdatePath(id uint, newPath string) error
	UpdateTagState(id uint, tagState int) error
	DeleteByPath(path string) error
	// ResetTagState 清空所有打标状态和标签，用于显式要求重新打标的场景。
	ResetTagState() error
	Count() (int64, error)
}

type imageRepository struct {
	db *gorm.DB
}

// NewImageRepository 创建一个新的 ImageRepository 实例。
func NewImageRepository(db *gorm.DB) ImageRepository {
	return &imageRepository{db: db}
}

func (r *imageRepository) FindByID(id uint) (*model.Image, error) {
	var image model.Image
	if err := r.db.First(&image, id).Error; err != nil {
		return nil, err
	}
	return &image, nil
}

func (r *imageRepository) FindByPath(path string) (*model.Image, error) {
	var image model.Image
	err := r.db.Where("path = ?", path).First(&image).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &image, nil
}

func (r *imageRepository) FindAllWithFeatures(pathFilter string, startTime, endTime *time.Time) ([]*model.Image, error) {
	var images []*model.Image
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
	err := query.Find(&images).Error
	return images, err
}

func (r *imageRepository) FindUntagged() ([]*model.Image, error) {
	var images []*model.Image
	err := r.db.Where("tag_state = ? AND features IS NOT NULL", model.TagStateUntagged).Find(&images).Error
	return images, err
}

func (r *imageRepository) FindAllPaths() ([]string, error) {
	var paths []string
	err := r.db.Model(&model.Image{}).Pluck("path", &paths).Error
	return paths, err
}

func (r *imageRepository) Save(image *model.Image) error {
	return r.db.Save(image).Error
}

func (r *imageRepository) UpdateTags(id uint, tags string, tagState int) error {
	return r.db.Model(&model.Image{}).Where("id = ?", id).
		Updates(map[string]interface{}{"tags": tags, "tag_state": tagState}).Error
}

func (r *imageRepository) UpdatePath(id uint, newPath string) error {
	return r.db.Model(&model.Image{}).Where("id = ?", id).Update("path", newPath).Error
}

func (r *imageRepository) UpdateTagState(id uint, tagState int) error {
	return r.db.Model(&model.Image{}).Where("id = ?", id).Update("tag_state", tagState).Error
}

func (r *imageRepository) DeleteByPath(path string) error {
	return r.db.Where("path = ?", path).Delete(&model.Image{}).Error
}

func (r *imageRepository) ResetTagState() error {
	return r.db.Model(&model.Image{}).Where("1 = 1").
		Updates(map[string]interface{}{"tags": "", "tag_state": model.TagStateUntagged}).Error
}

func (r *imageRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&model.Image{}).Count(&count).Error
	return count, err
}
