package lidgren

import (
	"os"

	"github.com/rs/zerolog"
)

// NewDefaultLogger returns a console-writer zerolog.Logger at info
// level, the zero-config logger a Peer uses when Configuration.Logger
// is left unset. Host applications normally supply their own (see
// pkg/atlas.Server.Logger for the shape this mirrors).
func NewDefaultLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		With().Timestamp().Logger().Level(zerolog.InfoLevel)
}

// connLogger returns a sub-logger bound with this connection's remote
// address, so every log line the worker emits while handling this
// connection is attributable without passing the address everywhere.
func (c *Connection) connLogger() zerolog.Logger {
	return c.peer.logger.With().Str("remote_addr", c.RemoteAddr.String()).Logger()
}
