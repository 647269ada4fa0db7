package logger

import (
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Logger is the global logger instance.
	Logger *zap.SugaredLogger
	// JSONOutput tracks which output mode Initialize chose.
	JSONOutput bool

	verbosity atomic.Int32
)

// CurrentVerbosity returns the -v count Initialize was last called with.
// Output-category call sites (ShouldShowFrameRouting et al.) read this
// instead of threading a verbosity argument through every component,
// since the broker's verbosity is fixed for the process lifetime (unlike
// the teacher's per-connection "set_verbosity" runtime control).
func CurrentVerbosity() int {
	return int(verbosity.Load())
}

func init() {
	// Initialize with a safe no-op logger at package load time so that
	// package-level code logging before Initialize() runs never panics.
	Logger = zap.NewNop().Sugar()
}

// Initialize sets up the global logger at the given CLI verbosity (see
// VerbosityToLevel), choosing structured JSON output for machine
// consumption or a minimal, calm console encoder for interactive use.
func Initialize(jsonOutput bool, cliVerbosity int) error {
	JSONOutput = jsonOutput
	verbosity.Store(int32(cliVerbosity))
	loadThemeFromEnv()

	level := VerbosityToLevel(cliVerbosity)

	var zapLogger *zap.Logger
	if jsonOutput {
		config := zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(level)
		config.OutputPaths = []string{"stderr"}
		built, err := config.Build()
		if err != nil {
			return err
		}
		zapLogger = built
	} else {
		zapLogger = zap.New(
			zapcore.NewCore(
				newMinimalEncoder(),
				zapcore.AddSync(os.Stderr),
				level,
			),
		)
	}

	Logger = zapLogger.Sugar()
	return nil
}

// loadThemeFromEnv reads JGD_LOG_THEME, the only theme knob; the config
// file has no theme setting, and logging must work before config has loaded.
func loadThemeFromEnv() {
	if theme := os.Getenv("JGD_LOG_THEME"); theme != "" {
		SetTheme(theme)
	}
}

// Cleanup flushes any buffered log entries. Errors are often ignorable for
// stderr (e.g. EINVAL from Sync on some platforms).
func Cleanup() error {
	if Logger != nil {
		return Logger.Sync()
	}
	return nil
}

func Info(args ...interface{})                { Logger.Info(args...) }
func Infof(format string, args ...interface{}) { Logger.Infof(format, args...) }
func Infow(msg string, kv ...interface{})      { Logger.Infow(msg, kv...) }
func Warn(args ...interface{})                 { Logger.Warn(args...) }
func Warnf(format string, args ...interface{}) { Logger.Warnf(format, args...) }
func Warnw(msg string, kv ...interface{})      { Logger.Warnw(msg, kv...) }
func Error(args ...interface{})                { Logger.Error(args...) }
func Errorf(format string, args ...interface{}) { Logger.Errorf(format, args...) }
func Errorw(msg string, kv ...interface{})     { Logger.Errorw(msg, kv...) }
func Debug(args ...interface{})                { Logger.Debug(args...) }
func Debugf(format string, args ...interface{}) { Logger.Debugf(format, args...) }
func Debugw(msg string, kv ...interface{})     { Logger.Debugw(msg, kv...) }
