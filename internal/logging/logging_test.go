package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(Config{Level: "warn"}, &buf)

	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info 日志不应输出: %s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("warn 日志应输出: %s", out)
	}
}

func TestNewLoggerInvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(Config{Level: "verbose"}, &buf)
	logger.Debug().Msg("debug")
	logger.Info().Msg("info")
	if strings.Contains(buf.String(), `"debug"`) || !strings.Contains(buf.String(), `"info"`) {
		t.Fatalf("非法级别应回退为 info: %s", buf.String())
	}
}

func TestNewLoggerWritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "spikewatch.log")
	var buf bytes.Buffer
	logger := newLogger(Config{Level: "info", Format: "console", File: FileConfig{Path: path}}, &buf)
	logger.Info().Str("component", "test").Msg("to file")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("读取日志文件失败: %v", err)
	}
	if !strings.Contains(string(data), `"message":"to file"`) {
		t.Fatalf("日志文件应包含 JSON 消息: %s", data)
	}
	if !strings.Contains(buf.String(), "to file") {
		t.Fatalf("控制台也应输出: %s", buf.String())
	}
}
