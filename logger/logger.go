package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	nested "github.com/antonfisher/nested-logrus-formatter"
	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

var logger = logrus.New()

// Init configures the process logger from viper ("log.path", "log.file",
// "log.level", "log.stdout"). Safe to call before config is loaded; falls
// back to stdout at info level.
func Init() error {
	logger.SetFormatter(&nested.Formatter{
		HideKeys:        true,
		TimestampFormat: "2006-01-02 15:04:05.000",
		NoColors:        true,
	})

	level, err := logrus.ParseLevel(viper.GetString("log.level"))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	var writers []io.Writer
	if viper.GetBool("log.stdout") || viper.GetString("log.path") == "" {
		writers = append(writers, os.Stdout)
	}
	if path := viper.GetString("log.path"); path != "" {
		file := viper.GetString("log.file")
		if file == "" {
			file = "server.log"
		}
		rl, err := rotatelogs.New(
			filepath.Join(path, file+".%Y%m%d"),
			rotatelogs.WithLinkName(filepath.Join(path, file)),
			rotatelogs.WithRotationTime(24*time.Hour),
			rotatelogs.WithMaxAge(7*24*time.Hour),
		)
		if err != nil {
			return fmt.Errorf("init rotate logs: %v", err)
		}
		writers = append(writers, rl)
	}
	logger.SetOutput(io.MultiWriter(writers...))
	return nil
}

// Log exposes the underlying logrus instance for callers that need fields.
func Log() *logrus.Logger {
	return logger
}

func Debug(args ...interface{}) { logger.Debug(args...) }
func Info(args ...interface{})  { logger.Info(args...) }
func Warn(args ...interface{})  { logger.Warn(args...) }
func Error(args ...interface{}) { logger.Error(args...) }

func Debugf(format string, args ...interface{}) { logger.Debugf(format, args...) }
func Infof(format string, args ...interface{})  { logger.Infof(format, args...) }
func Warnf(format string, args ...interface{})  { logger.Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { logger.Errorf(format, args...) }
