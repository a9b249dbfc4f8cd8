package store

import (
	"fmt"
	"time"

	"gorm.io/gorm/logger"
	"k8s.io/klog/v2"
)

// klogWriter feeds gorm's logger into klog
type klogWriter struct{}

func (klogWriter) Printf(format string, args ...interface{}) {
	klog.InfoDepth(4, fmt.Sprintf(format, args...))
}

func newLogger(level string) logger.Interface {
	lvl := logger.Warn
	if level == "debug" {
		lvl = logger.Info
	}
	return logger.New(klogWriter{}, logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  lvl,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}
