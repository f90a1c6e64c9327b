// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Log       LogConfig       `mapstructure:"log"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Scan      ScanConfig      `mapstructure:"scan"`
	Search    SearchConfig    `mapstructure:"search"`
	AutoTag   AutoTagConfig   `mapstructure:"autotag"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	SQLite SQLiteConfig `mapstructure:"sqlite"`
	Redis  RedisConfig  `mapstructure:"redis"`
}

// SQLiteConfig 存储素材索引数据库的配置。
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig 存储 Redis 的配置。Redis 仅用于缓存文本向量，可以不启用。
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// EmbeddingConfig 存储 CLIP Embedding 服务相关的配置。
type EmbeddingConfig struct {
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
}

// ScanConfig 存储素材扫描相关的配置。
type ScanConfig struct {
	AssetsPath        []string `mapstructure:"assets_path"`
	ImageExtensions   []string `mapstructure:"image_extensions"`
	VideoExtensions   []string `mapstructure:"video_extensions"`
	FrameInterval     int      `mapstructure:"frame_interval"`   // 视频抽帧间隔，单位秒
	BatchSize         int      `mapstructure:"batch_size"`       // 一次提交给模型的帧数
	ImageMinWidth     int      `mapstructure:"image_min_width"`  // 低于此宽度的图片不建立索引
	ImageMinHeight    int      `mapstructure:"image_min_height"` // 低于此高度的图片不建立索引
	ImageMaxSize      int      `mapstructure:"image_max_size"`   // 发送给模型前图片最长边的上限
	EnableChecksum    bool     `mapstructure:"enable_checksum"`  // 是否额外用 SHA1 做变更检测
	AutoScan          bool     `mapstructure:"auto_scan"`
	AutoScanStartTime string   `mapstructure:"auto_scan_start_time"` // 形如 "22:30"
	AutoScanEndTime   string   `mapstructure:"auto_scan_end_time"`   // 形如 "08:00"
}

// SearchConfig 存储搜索相关的默认阈值，均为 0-100 的分数。
type SearchConfig struct {
	PositiveThreshold int `mapstructure:"positive_threshold"`
	NegativeThreshold int `mapstructure:"negative_threshold"`
	ImageThreshold    int `mapstructure:"image_threshold"`
}

// AutoTagConfig 存储自动打标相关的配置。
type AutoTagConfig struct {
	CacheFile     string  `mapstructure:"cache_file"`     // 标签向量缓存文件
	Threshold     float64 `mapstructure:"threshold"`      // 标签相似度阈值，0-1
	ImageTopK     int     `mapstructure:"image_top_k"`    // 单张图片保留的标签数
	VideoTopK     int     `mapstructure:"video_top_k"`    // 视频单帧保留的标签数
	MinOccurrence int     `mapstructure:"min_occurrence"` // 视频标签跨帧出现的最少次数
	EnableRename  bool    `mapstructure:"enable_rename"`
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}
}
