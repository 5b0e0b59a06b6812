package convergence

// sslUnsupported is sent in response to an SSLRequest to tell the client
// that this server does not support upgrading the connection to TLS. The
// client is expected to retry the startup over the same, unencrypted
// connection.
var sslUnsupported = []byte{'N'}
