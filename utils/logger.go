package utils

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// InitLogger 配置全局logrus：带完整时间戳的文本格式，debug模式输出调试日志
func InitLogger(mode string, extra ...io.Writer) {
	writers := append([]io.Writer{os.Stderr}, extra...)
	logrus.SetOutput(io.MultiWriter(writers...))
	logrus.SetFormatter(&logrus.TextFormatter{
		DisableColors:   true,
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	level := logrus.InfoLevel
	if mode == "debug" {
		level = logrus.DebugLevel
	}
	logrus.SetLevel(level)
}
