package player

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// InitLogger installs a tint handler as the default slog logger
func InitLogger(config *Config) {
	SetupLogger(os.Stdout, config.GetSlogLevel(), true)
}

// SetupLogger builds the tint handler on w. Source paths are shown relative to the project root.
func SetupLogger(w io.Writer, level slog.Level, color bool) *slog.Logger {
	_, filename, _, _ := runtime.Caller(0)
	projectRoot := getProjectRoot(filename)

	replaceAttr := func(groups []string, a slog.Attr) slog.Attr {
		if a.Key != slog.SourceKey {
			return a
		}
		source, ok := a.Value.Any().(*slog.Source)
		if !ok {
			return a
		}
		// 프로젝트 밖의 파일(표준 라이브러리 등)은 전체 경로 유지
		if projectRoot != "" && strings.HasPrefix(source.File, projectRoot+string(os.PathSeparator)) {
			source.File = source.File[len(projectRoot)+1:]
		}
		return slog.Any(a.Key, source)
	}

	handler := tint.NewHandler(w, &tint.Options{
		Level:       level,
		AddSource:   true,
		NoColor:     !color,
		TimeFormat:  time.RFC3339,
		ReplaceAttr: replaceAttr,
	})

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// getProjectRoot walks up from this file to the directory holding go.mod
func getProjectRoot(file string) string {
	dir := filepath.Dir(file)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
