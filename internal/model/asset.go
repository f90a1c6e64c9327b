// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// 素材的打标状态。用显式状态列代替"tags 是否为空"的隐式判断，
// 让跳过/重试策略成为可测试的一等逻辑。
const (
	TagStateUntagged     = 0 // 未打标，扫描后可被打标，打标失败后可重试
	TagStateTagged       = 1 // 已打标，后续打标运行会跳过
	TagStateRenameFailed = 2 // 已打标但重命名失败，路径保持原值
)

// Image 对应 image 表，每行是一张已建立索引的图片。
// features 是模型输出的特征向量，按小端序 float32 序列化。
type Image struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Path         string    `gorm:"type:varchar(255);uniqueIndex" json:"path"`
	OriginalName string    `gorm:"type:varchar(255)" json:"originalName"` // 创建时的文件名，之后不再变化
	ModifyTime   time.Time `gorm:"index" json:"modifyTime"`               // 上次计算特征时观察到的文件修改时间
	Checksum     string    `gorm:"type:varchar(64);index" json:"-"`       // 文件 SHA1，可选
	Features     []byte    `gorm:"type:blob" json:"-"`
	Tags         string    `gorm:"type:varchar(1024)" json:"tags"` // JSON 数组，展示语言的标签
	TagState     int       `gorm:"not null;default:0" json:"tagState"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Image) TableName() string {
	return "image"
}

// Video 对应 video 表。一个视频文件对应多行记录，每行是一个采样帧，
// 同一文件的所有行共享 path，以 frame_time 区分。
type Video struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Path         string    `gorm:"type:varchar(255);uniqueIndex:idx_video_path_frame" json:"path"`
	OriginalName string    `gorm:"type:varchar(255)" json:"originalName"`
	FrameTime    int       `gorm:"uniqueIndex:idx_video_path_frame" json:"frameTime"` // 该帧距视频开头的秒数
	ModifyTime   time.Time `gorm:"index" json:"modifyTime"`
	Checksum     string    `gorm:"type:varchar(64);index" json:"-"`
	Features     []byte    `gorm:"type:blob" json:"-"`
	Tags         string    `gorm:"type:varchar(1024)" json:"tags"`
	TagState     int       `gorm:"not null;default:0" json:"tagState"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Video) TableName() string {
	return "video"
}

// ImageSearchResultDTO 是图片搜索结果的传输结构。
type ImageSearchResultDTO struct {
	ID    uint    `json:"id"`
	Path  string  `json:"path"`
	Score float64 `json:"score"`
}

// VideoSearchResultDTO 是视频搜索结果的传输结构。
// 连续命中的采样帧会被合并为一个片段，分数取片段内帧的最高分。
type VideoSearchResultDTO struct {
	Path      string  `json:"path"`
	StartTime int     `json:"startTime"`
	EndTime   int     `json:"endTime"`
	Score     float64 `json:"score"`
}

// ScanStatusDTO 是扫描状态的传输结构。
type ScanStatusDTO struct {
	IsScanning   bool  `json:"isScanning"`
	Processed    int   `json:"processed"`
	Skipped      int   `json:"skipped"`
	Failed       int   `json:"failed"`
	TotalImages  int64 `json:"totalImages"`
	TotalVideos  int64 `json:"totalVideos"`
	ModelLoaded  bool  `json:"modelLoaded"`
	LastScanTime int64 `json:"lastScanTime"` // unix 秒，0 表示尚未扫描过
}
