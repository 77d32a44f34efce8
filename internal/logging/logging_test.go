package logging

import (
	"bytes"
	"os"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewLoggerLevel(t *testing.T) {
	logger := NewLogger(Config{Level: "WARN"})
	if logger.GetLevel() != zerolog.WarnLevel {
		t.Fatalf("level = %s, want warn", logger.GetLevel())
	}
	if NewLogger(Config{Level: "nonsense"}).GetLevel() != zerolog.InfoLevel {
		t.Fatalf("unknown level should fall back to info")
	}
	if NewLogger(Config{}).GetLevel() != zerolog.InfoLevel {
		t.Fatalf("empty level should default to info")
	}
}

func TestOutputStream(t *testing.T) {
	if outputStream("stderr") != os.Stderr {
		t.Fatalf("stderr not selected")
	}
	if outputStream("") != os.Stdout {
		t.Fatalf("stdout should be the default")
	}
}

func TestConsoleWriter(t *testing.T) {
	var buf bytes.Buffer
	w := logWriter(Config{Format: "console"}, &buf)
	if _, ok := w.(zerolog.ConsoleWriter); !ok {
		t.Fatalf("console format should wrap the output, got %T", w)
	}
	if logWriter(Config{Format: "json"}, &buf) != &buf {
		t.Fatalf("json format should write directly")
	}
}
