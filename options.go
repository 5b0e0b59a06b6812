package convergence

import "log/slog"

// OptionFn is the functional-options pattern used to configure a Server at
// construction time.
type OptionFn func(*Server)

// WithLogger sets the structured logger used by the server and every
// Session it spawns. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) OptionFn {
	return func(srv *Server) {
		srv.logger = logger
	}
}

// WithBufferedMsgSize sets the maximum size, in bytes, of a single incoming
// protocol message. Defaults to buffer.DefaultBufferSize.
func WithBufferedMsgSize(size int) OptionFn {
	return func(srv *Server) {
		srv.bufferedMsgSize = size
	}
}

// WithVersion advertises version to clients as the server_version startup
// parameter.
func WithVersion(version string) OptionFn {
	return func(srv *Server) {
		srv.version = version
	}
}

// WithMetrics makes the server report connection, command and error counts
// through the given Metrics (see NewMetrics). Without this option the server
// has no Metrics and records nothing.
func WithMetrics(metrics *Metrics) OptionFn {
	return func(srv *Server) {
		srv.metrics = metrics
	}
}
