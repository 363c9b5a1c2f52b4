// Package obs provides RFT's structured logging, a thin wrapper around
// zerolog: a wrapper type holding a zerolog.Logger, With* context builders
// that return a new wrapper, and named event methods instead of ad-hoc
// Printf call sites.
package obs

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog for RFT's connection/object/chunk vocabulary.
type Logger struct {
	z zerolog.Logger
}

// New creates a root logger writing to output (os.Stderr if nil).
func New(output io.Writer) *Logger {
	if output == nil {
		output = os.Stderr
	}
	zerolog.TimeFieldFormat = time.RFC3339
	return &Logger{z: zerolog.New(output).With().Timestamp().Logger()}
}

// WithConnection adds a correlation id scoping subsequent log lines to one
// Connection. The id is a local-only uuid (never serialized on the wire);
// the protocol session id is a handshake-assigned uint64 attached separately
// once known via WithSession.
func (l *Logger) WithConnection(traceID string) *Logger {
	return &Logger{z: l.z.With().Str("conn_id", traceID).Logger()}
}

// WithSession adds the negotiated wire session id once the handshake
// completes.
func (l *Logger) WithSession(sessionID uint64) *Logger {
	return &Logger{z: l.z.With().Uint64("session_id", sessionID).Logger()}
}

// WithObject adds (object_type, object_id) context.
func (l *Logger) WithObject(objectType byte, objectID uint64) *Logger {
	return &Logger{z: l.z.With().Uint8("object_type", objectType).Uint64("object_id", objectID).Logger()}
}

func (l *Logger) Debug(msg string)            { l.z.Debug().Msg(msg) }
func (l *Logger) Info(msg string)             { l.z.Info().Msg(msg) }
func (l *Logger) Warn(msg string)             { l.z.Warn().Msg(msg) }
func (l *Logger) Error(err error, msg string) { l.z.Error().Err(err).Msg(msg) }

// HandshakeCompleted logs the session id negotiated during the handshake.
func (l *Logger) HandshakeCompleted(sessionID uint64, isServer bool) {
	l.z.Info().Uint64("session_id", sessionID).Bool("is_server", isServer).Msg("handshake completed")
}

// ObjectStarted logs a new send or receive job beginning.
func (l *Logger) ObjectStarted(objectType byte, objectID uint64, numChunks int64, direction string) {
	l.z.Info().
		Uint8("object_type", objectType).
		Uint64("object_id", objectID).
		Int64("num_chunks", numChunks).
		Str("direction", direction).
		Msg("object transfer started")
}

// FileTransmitted logs a completed send of a file.
func (l *Logger) FileTransmitted(name string, size int64) {
	l.z.Info().Str("file", name).Int64("size", size).Msg("File fully transmitted")
}

// FileReceived logs a completed, hash-verified receive.
func (l *Logger) FileReceived(name string, size int64) {
	l.z.Info().Str("file", name).Int64("size", size).Msg("file received and verified")
}

// HashMismatch logs a failed integrity check.
func (l *Logger) HashMismatch(name string) {
	l.z.Error().Str("file", name).Msg("hash verification failed")
}

// FrameDropped logs a parse failure that caused a datagram to be dropped.
func (l *Logger) FrameDropped(err error) {
	l.z.Warn().Err(err).Msg("dropped malformed frame")
}

// ConnectionTimedOut logs the idle-timeout firing.
func (l *Logger) ConnectionTimedOut(idleFor time.Duration) {
	l.z.Warn().Dur("idle_for", idleFor).Msg("connection timed out")
}
