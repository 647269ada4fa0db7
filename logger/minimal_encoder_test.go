package logger

import (
	"regexp"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// stripANSI removes ANSI color codes from a string for testing
func stripANSI(str string) string {
	ansiRegex := regexp.MustCompile(`\x1b\[[0-9;]*m`)
	return ansiRegex.ReplaceAllString(str, "")
}

func TestMinimalEncoderSessionAndDimensionFields(t *testing.T) {
	encoder := newMinimalEncoder()

	entry := zapcore.Entry{
		Level:      zapcore.InfoLevel,
		Time:       time.Now(),
		LoggerName: "hub",
		Message:    "resize forwarded",
	}

	fields := []zapcore.Field{
		zap.String(FieldSessionID, "conn-3"),
		zap.Int(FieldWidth, 800),
		zap.Int(FieldHeight, 600),
		zap.Int64(FieldDurationMS, 12),
	}

	buf, err := encoder.EncodeEntry(entry, fields)
	if err != nil {
		t.Fatalf("failed to encode entry: %v", err)
	}

	clean := stripANSI(buf.String())

	for _, want := range []string{"conn-3", "800", "600", "12ms"} {
		if !strings.Contains(clean, want) {
			t.Errorf("expected output to contain %q, got: %s", want, clean)
		}
	}
}

func TestMinimalEncoderPlotIndexField(t *testing.T) {
	encoder := newMinimalEncoder()

	entry := zapcore.Entry{
		Level:      zapcore.InfoLevel,
		Time:       time.Now(),
		LoggerName: "hub",
		Message:    "plotIndex resize routed",
	}

	fields := []zapcore.Field{
		zap.Int(FieldPlotIndex, 2),
	}

	buf, err := encoder.EncodeEntry(entry, fields)
	if err != nil {
		t.Fatalf("failed to encode entry: %v", err)
	}

	clean := stripANSI(buf.String())
	if !strings.Contains(clean, "#2") {
		t.Errorf("expected plot index to render as #2, got: %s", clean)
	}
}

func TestMinimalEncoderUnknownFieldsDoNotCrash(t *testing.T) {
	encoder := newMinimalEncoder()

	entry := zapcore.Entry{
		Level:      zapcore.InfoLevel,
		Time:       time.Now(),
		LoggerName: "transport",
		Message:    "listener bound",
	}

	fields := []zapcore.Field{
		zap.String("unrecognized_key", "value"),
		zap.Bool("flag", true),
		zap.Duration("elapsed", 5*time.Second),
	}

	buf, err := encoder.EncodeEntry(entry, fields)
	if err != nil {
		t.Fatalf("failed to encode entry with unrecognized fields: %v", err)
	}

	if buf.Len() == 0 {
		t.Error("expected non-empty output even with unrecognized fields")
	}
}

func TestMinimalEncoderLevelColoring(t *testing.T) {
	encoder := newMinimalEncoder()

	for _, level := range []zapcore.Level{zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel} {
		entry := zapcore.Entry{
			Level:      level,
			Time:       time.Now(),
			LoggerName: "session",
			Message:    "session closed",
		}

		buf, err := encoder.EncodeEntry(entry, nil)
		if err != nil {
			t.Fatalf("failed to encode entry at level %s: %v", level, err)
		}

		clean := stripANSI(buf.String())
		if !strings.Contains(clean, "session closed") {
			t.Errorf("expected message in output at level %s, got: %s", level, clean)
		}
	}
}

func TestColorizeMessageBracketedSession(t *testing.T) {
	SetTheme("everforest")
	msg := colorizeMessage("producer [session:conn-1] registered")
	clean := stripANSI(msg)
	if clean != "producer [session:conn-1] registered" {
		t.Errorf("colorizeMessage should preserve text content, got: %s", clean)
	}
}

func TestAbbreviateName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"hub", "hub"},
		{"transport.tcp", "t.tcp"},
	}
	for _, tt := range tests {
		if got := abbreviateName(tt.in); got != tt.want {
			t.Errorf("abbreviateName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
