package logs

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger — общий логгер сервиса. До вызова Init равен nil,
// поэтому Init идёт первым шагом инициализации приложения.
var Logger *logrus.Logger

// Options — секция logs конфигурации.
type Options struct {
	Level  string // trace|debug|info|warning|error|fatal
	Format string // text|json
	File   string // путь/префикс лог-файла; если пусто — только stdout
}

// Init собирает логгер по настройкам и публикует его в Logger.
func Init(opts Options) {
	l := logrus.New()

	switch opts.Level {
	case "trace":
		l.SetLevel(logrus.TraceLevel)
	case "debug":
		l.SetLevel(logrus.DebugLevel)
	case "warning", "warn":
		l.SetLevel(logrus.WarnLevel)
	case "error":
		l.SetLevel(logrus.ErrorLevel)
	case "fatal":
		l.SetLevel(logrus.FatalLevel)
	default:
		l.SetLevel(logrus.InfoLevel)
	}

	if opts.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	}

	// файл именуется временем старта — ротация внешними средствами
	if opts.File != "" {
		name := fmt.Sprintf("%s_%s.log", opts.File, time.Now().Format("2006-01-02_15-04-05"))
		file, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
		if err != nil {
			l.Fatalf("failed to open log file %s: %v", name, err)
		}
		l.SetOutput(io.MultiWriter(file, os.Stdout))
	} else {
		l.SetOutput(os.Stdout)
	}

	Logger = l
}
