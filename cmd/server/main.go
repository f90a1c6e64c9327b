// Package main 是素材索引服务的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"material-search-go/internal/config"
	"material-search-go/internal/handler"
	"material-search-go/internal/middleware"
	"material-search-go/internal/repository"
	"material-search-go/internal/service"
	"material-search-go/pkg/database"
	"material-search-go/pkg/embedding"
	"material-search-go/pkg/log"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库和可选的 Redis 缓存
	database.InitSQLite(cfg.Database.SQLite.Path)
	if cfg.Database.Redis.Enabled {
		database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	}

	// 4. 初始化 Repository
	imageRepo := repository.NewImageRepository(database.DB)
	videoRepo := repository.NewVideoRepository(database.DB)

	// 5. 初始化 Service (依赖注入)
	embeddingClient := embedding.NewClient(cfg.Embedding)
	scanService := service.NewScanService(cfg.Scan, cfg.Embedding.Dimensions, embeddingClient, imageRepo, videoRepo)
	searchService := service.NewSearchService(embeddingClient, database.RDB, imageRepo, videoRepo,
		cfg.Embedding.Dimensions, cfg.Scan.FrameInterval)

	// 6. 按配置启动夜间自动扫描
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.Scan.AutoScan {
		log.Infof("自动扫描已启用, 时间窗口 %s - %s", cfg.Scan.AutoScanStartTime, cfg.Scan.AutoScanEndTime)
		go scanService.AutoScan(rootCtx)
	}

	// 7. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 8. 注册路由
	api := r.Group("/api")
	{
		scanHandler := handler.NewScanHandler(scanService)
		api.GET("/status", scanHandler.Status)
		api.POST("/scan", scanHandler.StartScan)

		searchHandler := handler.NewSearchHandler(searchService, cfg.Search)
		api.POST("/search/text", searchHandler.SearchByText)
		api.POST("/search/image", searchHandler.SearchByImage)
		api.POST("/clean_cache", searchHandler.CleanCache)

		mediaHandler := handler.NewMediaHandler(imageRepo, videoRepo)
		api.GET("/image/:id", mediaHandler.GetImage)
		api.GET("/video", mediaHandler.GetVideo)
	}

	// 9. 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")
	cancel()

	ctx, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer timeoutCancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}
