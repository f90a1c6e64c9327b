// Package main 是自动打标命令行工具的入口点。
package main

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/cobra"

	"material-search-go/internal/config"
	"material-search-go/internal/repository"
	"material-search-go/internal/service"
	"material-search-go/internal/tagging"
	"material-search-go/pkg/database"
	"material-search-go/pkg/embedding"
	"material-search-go/pkg/log"
)

var (
	flagConfig        string
	flagImagesOnly    bool
	flagVideosOnly    bool
	flagRename        bool
	flagReset         bool
	flagThreshold     float64
	flagTopK          int
	flagVideoTopK     int
	flagMinOccurrence int
)

var rootCmd = &cobra.Command{
	Use:   "autotag",
	Short: "为已建立索引的图片和视频批量生成语义标签",
	Long: `autotag 读取扫描阶段写入数据库的特征向量，和标签词表逐个比对，
把相似度达标的标签写回数据库，可选地按标签重命名文件。
标签词表向量只在首次运行时计算一次，之后从缓存文件加载。`,
	RunE: run,
}

func init() {
	rootCmd.Flags().StringVar(&flagConfig, "config", "./configs/config.yaml", "配置文件路径")
	rootCmd.Flags().BoolVar(&flagImagesOnly, "images-only", false, "只处理图片")
	rootCmd.Flags().BoolVar(&flagVideosOnly, "videos-only", false, "只处理视频")
	rootCmd.Flags().BoolVar(&flagRename, "rename", false, "打标后按标签重命名文件")
	rootCmd.Flags().BoolVar(&flagReset, "reset", false, "先清空全部打标状态再重新打标")
	rootCmd.Flags().Float64Var(&flagThreshold, "threshold", 0, "标签相似度阈值 (0-1)，0 表示使用配置值")
	rootCmd.Flags().IntVar(&flagTopK, "top-k", 0, "单张图片保留的标签数，0 表示使用配置值")
	rootCmd.Flags().IntVar(&flagVideoTopK, "video-top-k", 0, "视频单帧参与统计的标签数，0 表示使用配置值")
	rootCmd.Flags().IntVar(&flagMinOccurrence, "min-occurrence", 0, "视频标签跨帧出现次数下限，0 表示使用配置值")
}

func run(cmd *cobra.Command, _ []string) error {
	if flagImagesOnly && flagVideosOnly {
		return errors.New("--images-only 和 --videos-only 不能同时使用")
	}

	config.Init(flagConfig)
	cfg := config.Conf

	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()

	database.InitSQLite(cfg.Database.SQLite.Path)
	imageRepo := repository.NewImageRepository(database.DB)
	videoRepo := repository.NewVideoRepository(database.DB)

	opts := service.AutoTagOptions{
		EnableRename:  flagRename || cfg.AutoTag.EnableRename,
		Threshold:     cfg.AutoTag.Threshold,
		ImageTopK:     cfg.AutoTag.ImageTopK,
		VideoTopK:     cfg.AutoTag.VideoTopK,
		MinOccurrence: cfg.AutoTag.MinOccurrence,
	}
	if flagThreshold > 0 {
		opts.Threshold = flagThreshold
	}
	if flagTopK > 0 {
		opts.ImageTopK = flagTopK
	}
	if flagVideoTopK > 0 {
		opts.VideoTopK = flagVideoTopK
	}
	if flagMinOccurrence > 0 {
		opts.MinOccurrence = flagMinOccurrence
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	// 词表向量优先走缓存文件，缓存不可用时才需要 embedding 服务在线
	client := embedding.NewClient(cfg.Embedding)
	cache, err := tagging.LoadCache(ctx, cfg.AutoTag.CacheFile, cfg.Embedding.Dimensions, tagging.Vocabulary, client)
	if err != nil {
		return err
	}
	log.Infof("标签词表加载完成, 共 %d 个标签", cache.Size())

	svc := service.NewAutoTagService(cache, imageRepo, videoRepo, cfg.Embedding.Dimensions, opts)

	if flagReset {
		if err := svc.Reset(); err != nil {
			return err
		}
		log.Info("已清空全部打标状态")
	}

	if !flagVideosOnly {
		result, err := svc.TagImages(ctx)
		if err != nil {
			return err
		}
		log.Infof("图片打标完成: 处理 %d, 跳过 %d, 失败 %d", result.Processed, result.Skipped, result.Failed)
	}
	if !flagImagesOnly {
		result, err := svc.TagVideos(ctx)
		if err != nil {
			return err
		}
		log.Infof("视频打标完成: 处理 %d, 跳过 %d, 失败 %d", result.Processed, result.Skipped, result.Failed)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
