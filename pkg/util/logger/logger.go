// Package logger builds the zap logger of the packer process.
package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Supported encodings.
const (
	EncodingConsole = "console"
	EncodingJSON    = "json"
)

// Prm groups logger parameters.
type Prm struct {
	// Level is the minimal enabled level, info if empty.
	Level string
	// Encoding is EncodingConsole (default) or EncodingJSON.
	Encoding string
	// Sampling enables zap sampling of repeated messages.
	Sampling bool
}

// NewLogger builds zap logger writing to stderr. Timestamps are ISO8601,
// stack traces are attached to fatal records only.
func NewLogger(prm Prm) (*zap.Logger, error) {
	lvl := zap.NewAtomicLevelAt(zap.InfoLevel)
	if prm.Level != "" {
		if err := lvl.UnmarshalText([]byte(prm.Level)); err != nil {
			return nil, fmt.Errorf("invalid logger level %q: %w", prm.Level, err)
		}
	}

	c := zap.NewProductionConfig()
	c.Level = lvl
	c.OutputPaths = []string{"stderr"}
	c.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	switch prm.Encoding {
	case "", EncodingConsole:
		c.Encoding = EncodingConsole
	case EncodingJSON:
		c.Encoding = EncodingJSON
	default:
		return nil, fmt.Errorf("unsupported logger encoding %q", prm.Encoding)
	}

	if !prm.Sampling {
		c.Sampling = nil
	}

	l, err := c.Build(
		zap.AddStacktrace(zap.NewAtomicLevelAt(zap.FatalLevel)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build zap logger: %w", err)
	}

	return l, nil
}
