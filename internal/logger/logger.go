// Package logger 构建进程全局的 zap 日志器。
package logger

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// 文件轮转参数。体积与保留期是运维约定，不暴露成配置项。
const (
	rotateMaxSizeMB  = 200
	rotateMaxBackups = 5
	rotateMaxAgeDays = 14
)

// Config 日志器构建参数。File 为空时只写标准输出。
type Config struct {
	Level       string
	Development bool
	File        string
}

// New 按配置构建日志器。
//
// 开发模式走彩色控制台编码并在 error 级附带堆栈，生产模式
// 输出单行 JSON。未知级别回退到 info。
func New(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	sink, err := buildSink(cfg.File)
	if err != nil {
		return nil, err
	}

	core := zapcore.NewCore(buildEncoder(cfg.Development), sink, level)

	opts := []zap.Option{zap.AddCaller()}
	if cfg.Development {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}
	return zap.New(core, opts...), nil
}

func buildEncoder(development bool) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "ts"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeDuration = zapcore.StringDurationEncoder
	if development {
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(ec)
	}
	return zapcore.NewJSONEncoder(ec)
}

// buildSink 组装输出端。指定文件时经 lumberjack 轮转，
// 同时复制一份到标准输出方便容器环境采集。
func buildSink(file string) (zapcore.WriteSyncer, error) {
	stdout := zapcore.AddSync(os.Stdout)
	if file == "" {
		return stdout, nil
	}
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return nil, err
	}
	rotated := zapcore.AddSync(&lumberjack.Logger{
		Filename:   file,
		MaxSize:    rotateMaxSizeMB,
		MaxBackups: rotateMaxBackups,
		MaxAge:     rotateMaxAgeDays,
		Compress:   true,
	})
	return zapcore.NewMultiWriteSyncer(rotated, stdout), nil
}
