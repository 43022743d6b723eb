package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Setup - 표준 logrus 로거를 JSON 포맷으로 초기화
func Setup(level string) *logrus.Logger {
	log := logrus.StandardLogger()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stdout)

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
		log.Warnf("⚠️  Unknown LOG_LEVEL %q, falling back to info", level)
	}
	log.SetLevel(parsed)
	return log
}
