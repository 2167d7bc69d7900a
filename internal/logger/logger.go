package logger

import (
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/qs3c/gen_go_server/config"
)

// Setup 根据配置初始化全局 logrus
func Setup(cfg config.LogConfig) {
	level, err := log.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if strings.EqualFold(cfg.Format, "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	log.SetOutput(Writer(cfg))
}

// Writer 返回日志输出目标；配置了文件时同时写 stdout 和滚动文件
func Writer(cfg config.LogConfig) io.Writer {
	if cfg.File == "" {
		return os.Stdout
	}

	rotate := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	return io.MultiWriter(os.Stdout, rotate)
}
