package database

import (
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"material-search-go/internal/model"
	"material-search-go/pkg/log"
)

var DB *gorm.DB

// InitSQLite 初始化素材索引数据库连接，并自动迁移表结构。
// 数据库目录不存在时自动创建。
func InitSQLite(path string) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			log.Fatal("failed to create database directory", err)
		}
	}

	var err error
	DB, err = gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		log.Fatal("failed to connect database", err)
	}

	// 扫描线程和请求线程会并发读写，sqlite 只允许单个写连接
	sqlDB, err := DB.DB()
	if err != nil {
		log.Fatal("failed to get sql.DB", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := DB.AutoMigrate(&model.Image{}, &model.Video{}); err != nil {
		log.Fatal("failed to migrate database", err)
	}

	log.Info("SQLite database connected successfully")
}
