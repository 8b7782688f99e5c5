// Package transport moves protocol frames over a byte stream: reassembly,
// decryption and decompression on the way in; compression, serialization and
// encryption on the way out.
package transport

import (
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"

	"mcwire/internal/logging"
)

var tlog = logging.For("transport")

// Options tunes a Conn.
type Options struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	BufferCapacity int
}

// DefaultOptions returns the timeouts and buffer size used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		ReadTimeout:    DefaultReadTimeout,
		WriteTimeout:   DefaultWriteTimeout,
		BufferCapacity: BufferCapacity,
	}
}

// Conn is a network connection paired with its frame reader and writer.
type Conn struct {
	*ReadWriteLocker

	ID  string
	Log *slog.Logger

	nc net.Conn
}

// NewConn wraps nc. Zero fields in opts fall back to DefaultOptions.
func NewConn(nc net.Conn, component string, opts Options) *Conn {
	def := DefaultOptions()
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = def.ReadTimeout
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = def.WriteTimeout
	}
	if opts.BufferCapacity <= 0 {
		opts.BufferCapacity = def.BufferCapacity
	}

	id := uuid.NewString()
	log := logging.ForConn(component, id)

	r := NewReaderSize(nc, opts.BufferCapacity)
	r.SetTimeout(opts.ReadTimeout)
	r.SetLogger(log)
	w := NewWriter(nc)
	w.SetTimeout(opts.WriteTimeout)
	w.SetLogger(log)

	return &Conn{
		ReadWriteLocker: NewReadWriteLocker(r, w),
		ID:              id,
		Log:             log,
		nc:              nc,
	}
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }

// Close closes the underlying connection, unblocking any pending read or write.
func (c *Conn) Close() error { return c.nc.Close() }
