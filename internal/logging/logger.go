package logging

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

var logger *zap.Logger

// styleBanners is set when stdout is a terminal.
var styleBanners bool

var bannerStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("#7D56F4")).
	Bold(true)

// LogLevelEnvVar is the environment variable that controls logging verbosity.
// When unset or empty, Initialize falls back to the level passed by the caller,
// and to "info" if that is empty too. The device always logs: the diagnostic
// stream is the only place boot and network errors surface.
// Valid values: "debug", "info", "warn", "error"
const LogLevelEnvVar = "DEVBOOT_LOG_LEVEL"

// BannerWidth is the width of boot stage banner lines.
const BannerWidth = 50

// Initialize creates a new logger with the specified level.
// The DEVBOOT_LOG_LEVEL environment variable overrides level when set.
func Initialize(level string) error {
	if err := build(level, "stdout"); err != nil {
		return err
	}
	styleBanners = term.IsTerminal(int(os.Stdout.Fd()))
	return nil
}

// InitializeFile is Initialize with output appended to path instead of
// stdout, for when the terminal is taken by a full-screen view.
func InitializeFile(level, path string) error {
	styleBanners = false
	return build(level, path)
}

func build(level, output string) error {
	if env := os.Getenv(LogLevelEnvVar); env != "" {
		level = env
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(parseLevel(level)),
		Development:      false,
		Encoding:         "console",
		EncoderConfig:    zap.NewDevelopmentEncoderConfig(),
		OutputPaths:      []string{output},
		ErrorOutputPaths: []string{"stderr"},
	}

	// Customize encoder for better readability
	config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	if output == "stdout" {
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	built, err := config.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger = built
	return nil
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// SetLogger replaces the global logger. Tests use it to install an
// observer core; the boot sequence uses it to attach the boot id.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	logger = l
}

// With returns a child of the global logger carrying fields on every entry.
func With(fields ...zap.Field) *zap.Logger {
	return GetLogger().With(fields...)
}

// GetLogger returns the global logger instance
func GetLogger() *zap.Logger {
	if logger == nil {
		// Fallback to silent logger if not initialized
		logger = zap.NewNop()
	}
	return logger
}

// Info logs an info message
func Info(msg string, fields ...zap.Field) {
	GetLogger().Info(msg, fields...)
}

// Debug logs a debug message
func Debug(msg string, fields ...zap.Field) {
	GetLogger().Debug(msg, fields...)
}

// Warn logs a warning message
func Warn(msg string, fields ...zap.Field) {
	GetLogger().Warn(msg, fields...)
}

// Error logs an error message
func Error(msg string, fields ...zap.Field) {
	GetLogger().Error(msg, fields...)
}

// Fatal logs a fatal message and exits
func Fatal(msg string, fields ...zap.Field) {
	GetLogger().Fatal(msg, fields...)
}

// TryAndLog logs err under the given context label and reports whether the
// operation succeeded. It replaces ad-hoc "if err != nil { log }" blocks at
// call sites where a failure is tolerated (OTA validation, indicator output,
// store formatting).
func TryAndLog(err error, context string) bool {
	if err == nil {
		return true
	}
	Error("Operation failed",
		zap.String("context", context),
		zap.Error(err),
	)
	return false
}

// Try runs op and logs its error under context. See TryAndLog.
func Try(op func() error, context string) bool {
	return TryAndLog(op(), context)
}

// BannerText returns msg centred in a line of asterisks, BannerWidth wide.
func BannerText(msg string) string {
	var b strings.Builder
	stars := (BannerWidth - (len(msg) + 2)) / 2
	if stars < 0 {
		stars = 0
	}
	b.WriteString(strings.Repeat("*", stars))
	b.WriteString(" " + msg + " ")
	for b.Len() < BannerWidth {
		b.WriteByte('*')
	}
	return b.String()
}

// Banner logs a boot stage separator line, highlighted on a terminal.
func Banner(msg string) {
	text := BannerText(msg)
	if styleBanners {
		text = bannerStyle.Render(text)
	}
	Info(text)
}

// LogHTTPRequest logs an HTTP request served by the dashboard
func LogHTTPRequest(remoteAddr string, method string, path string, status int) {
	Debug("HTTP request",
		zap.String("remote_addr", remoteAddr),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status_code", status),
	)
}

// LogWebSocketMessage logs a WebSocket message
func LogWebSocketMessage(remoteAddr string, direction string, messageType int, data []byte) {
	fields := []zap.Field{
		zap.String("remote_addr", remoteAddr),
		zap.String("direction", direction),
		zap.String("message_type", wsMessageTypeName(messageType)),
		zap.Int("length", len(data)),
	}

	// For binary messages or debug mode, add hex dump
	if messageType == 2 || GetLogger().Core().Enabled(zapcore.DebugLevel) {
		fields = append(fields, zap.String("hex_dump", hexDump(data)))
	}

	// For text messages, include the content
	if messageType == 1 {
		fields = append(fields, zap.String("content", string(data)))
	}

	Debug("WebSocket message", fields...)
}

// LogRawBytes logs raw bytes (useful for debugging flash contents)
func LogRawBytes(label string, data []byte) {
	Debug(label,
		zap.Int("length", len(data)),
		zap.String("hex", hexDump(data)),
		zap.String("ascii", asciiDump(data)),
	)
}

// Helper functions

func wsMessageTypeName(msgType int) string {
	switch msgType {
	case 1:
		return "text"
	case 2:
		return "binary"
	case 8:
		return "close"
	case 9:
		return "ping"
	case 10:
		return "pong"
	default:
		return fmt.Sprintf("unknown(%d)", msgType)
	}
}

func hexDump(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	// Limit to first 256 bytes for logging
	if len(data) > 256 {
		return hex.EncodeToString(data[:256]) + "..."
	}
	return hex.EncodeToString(data)
}

func asciiDump(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	// Limit to first 256 bytes
	if len(data) > 256 {
		data = data[:256]
	}

	result := make([]byte, len(data))
	for i, b := range data {
		if b >= 32 && b <= 126 {
			result[i] = b
		} else {
			result[i] = '.'
		}
	}
	return string(result)
}

// Sync flushes any buffered log entries
func Sync() {
	if logger != nil {
		_ = logger.Sync()
	}
}
