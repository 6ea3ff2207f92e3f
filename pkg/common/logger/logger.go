package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var Log = logrus.New()

func Init() {
	InitWithOutput(os.Stdout, os.Getenv("LOG_LEVEL"))
}

// InitWithOutput configures the shared logger. Unknown levels fall back to info.
func InitWithOutput(out io.Writer, level string) {
	Log = logrus.New()
	Log.SetOutput(out)
	Log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})

	if level == "" {
		level = "info"
	}

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	Log.SetLevel(logLevel)
}

func WithField(key string, value interface{}) *logrus.Entry {
	return Log.WithField(key, value)
}

func WithFields(fields logrus.Fields) *logrus.Entry {
	return Log.WithFields(fields)
}

func WithSubject(subjectID string) *logrus.Entry {
	return Log.WithField("subject_id", subjectID)
}
