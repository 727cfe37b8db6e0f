package main

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm/utils"
)

// setupLogging configures the standard logrus logger.
func setupLogging(c Config) {
	log.SetOutput(os.Stdout)
	if strings.EqualFold(c.LogFormat, "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	lvl, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		log.WithError(err).Warn("unknown LOG_LEVEL, using info")
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}

// gormLogger sends gorm output to logrus. SQL is only traced at debug level; slow statements
// and errors are always reported.
type gormLogger struct {
	SlowThreshold time.Duration
	LogLevel      gormlogger.LogLevel
}

func newGormLogger(slow time.Duration) gormlogger.Interface {
	level := gormlogger.Warn
	if log.IsLevelEnabled(log.DebugLevel) {
		level = gormlogger.Info
	}
	return &gormLogger{SlowThreshold: slow, LogLevel: level}
}

func (l *gormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	nl := *l
	nl.LogLevel = level
	return &nl
}

func (l *gormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= gormlogger.Info {
		log.Infof(msg, data...)
	}
}

func (l *gormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= gormlogger.Warn {
		log.Warnf(msg, data...)
	}
}

func (l *gormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= gormlogger.Error {
		log.Errorf(msg, data...)
	}
}

func (l *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.LogLevel >= gormlogger.Error:
		sql, rows := fc()
		log.WithFields(log.Fields{"file": utils.FileWithLineNum(), "elapsed": elapsed, "rows": rows}).
			WithError(err).Error(sql)
	case l.SlowThreshold > 0 && elapsed > l.SlowThreshold && l.LogLevel >= gormlogger.Warn:
		sql, rows := fc()
		log.WithFields(log.Fields{"file": utils.FileWithLineNum(), "elapsed": elapsed, "rows": rows}).
			Warn("slow sql: " + sql)
	case l.LogLevel >= gormlogger.Info:
		sql, rows := fc()
		log.WithFields(log.Fields{"elapsed": elapsed, "rows": rows}).Debug(sql)
	}
}
