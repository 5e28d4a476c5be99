package log

import (
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

// emojiMap prefixes console entries by their "type" field.
var emojiMap = map[string]string{
	"request":      "🌐",
	"slow_request": "🐌",
	"success":      "✅",
	"error":        "❌",
	"warning":      "⚠️",
	"database":     "💾",
	"redis":        "📦",
	"startup":      "🚀",
	"health":       "🩺",
	"recovery":     "🩹",
	"refresh":      "🎫",
	"alert":        "🚨",
	"requeue":      "📤",
	"batch":        "🗂️",
	"circuit":      "⛔",
	"scheduler":    "🎯",
	"job":          "⚙️",
	"notify":       "📣",
}

func statusEmoji(status int) string {
	switch {
	case status >= 500:
		return "🔴"
	case status >= 400:
		return "🟠"
	case status >= 300:
		return "🟡"
	}
	return "🟢"
}

func levelEmoji(level zapcore.Level) string {
	switch level {
	case zapcore.ErrorLevel, zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		return "❌"
	case zapcore.WarnLevel:
		return "⚠️"
	case zapcore.InfoLevel:
		return "ℹ️"
	case zapcore.DebugLevel:
		return "🐛"
	}
	return ""
}

// EmojiConsoleEncoder is a console encoder that prefixes every message with an emoji chosen
// from the HTTP status, the "type" field or the level, in that order.
type EmojiConsoleEncoder struct {
	zapcore.Encoder
	config zapcore.EncoderConfig
}

// NewEmojiConsoleEncoder wraps zap's console encoder.
func NewEmojiConsoleEncoder(cfg zapcore.EncoderConfig) zapcore.Encoder {
	return &EmojiConsoleEncoder{
		Encoder: zapcore.NewConsoleEncoder(cfg),
		config:  cfg,
	}
}

// EncodeEntry implements zapcore.Encoder.
func (enc *EmojiConsoleEncoder) EncodeEntry(entry zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	var logType string
	var status int64

	for _, field := range fields {
		switch {
		case field.Key == "type" && field.Type == zapcore.StringType:
			logType = field.String
		case field.Key == "status" && (field.Type == zapcore.Int64Type || field.Type == zapcore.Int32Type):
			status = field.Integer
		}
	}

	emoji := ""
	if status > 0 {
		emoji = statusEmoji(int(status))
	} else if e, ok := emojiMap[logType]; ok {
		emoji = e
	}
	if emoji == "" {
		emoji = levelEmoji(entry.Level)
	}
	if emoji != "" {
		entry.Message = emoji + " " + entry.Message
	}

	return enc.Encoder.EncodeEntry(entry, fields)
}

// Clone implements zapcore.Encoder.
func (enc *EmojiConsoleEncoder) Clone() zapcore.Encoder {
	return &EmojiConsoleEncoder{
		Encoder: enc.Encoder.Clone(),
		config:  enc.config,
	}
}

// EmojiFor returns the emoji of a log type, if mapped.
func EmojiFor(logType string) (string, bool) {
	e, ok := emojiMap[logType]
	return e, ok
}
