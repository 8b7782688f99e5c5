package transport

import (
	"context"
	"sync"

	"mcwire/internal/crypto"
)

// ReadWriteLocker guards a Reader and a Writer with independent locks, so a
// blocked read never holds up a send and vice versa.
type ReadWriteLocker struct {
	readMu sync.Mutex
	reader *Reader

	writeMu sync.Mutex
	writer  *Writer
}

func NewReadWriteLocker(r *Reader, w *Writer) *ReadWriteLocker {
	return &ReadWriteLocker{reader: r, writer: w}
}

// WithReader runs fn while holding the read lock.
func (l *ReadWriteLocker) WithReader(fn func(*Reader) error) error {
	l.readMu.Lock()
	defer l.readMu.Unlock()
	return fn(l.reader)
}

// WithWriter runs fn while holding the write lock.
func (l *ReadWriteLocker) WithWriter(fn func(*Writer) error) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return fn(l.writer)
}

// NextFrame reads one frame under the read lock.
func (l *ReadWriteLocker) NextFrame(ctx context.Context) ([]byte, error) {
	l.readMu.Lock()
	defer l.readMu.Unlock()
	return l.reader.NextFrame(ctx)
}

// SendPacket writes one frame under the write lock.
func (l *ReadWriteLocker) SendPacket(f *WireFrame) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return l.writer.Send(f)
}

// EnableEncryption derives both codecs from the shared secret and installs
// them. It takes both locks, reader first.
func (l *ReadWriteLocker) EnableEncryption(secret []byte) error {
	read, write, err := crypto.NewCodecs(secret)
	if err != nil {
		return err
	}
	l.InstallCodecs(read, write)
	return nil
}

// InstallCodecs installs already-derived codecs on both halves.
func (l *ReadWriteLocker) InstallCodecs(read, write *crypto.Codec) {
	l.readMu.Lock()
	defer l.readMu.Unlock()
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	l.reader.EnableDecryption(read)
	l.writer.EnableEncryption(write)
}

// EnableCompression turns compression on for both halves. A negative
// threshold is ignored.
func (l *ReadWriteLocker) EnableCompression(threshold int32) {
	if threshold < 0 {
		return
	}
	l.readMu.Lock()
	defer l.readMu.Unlock()
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	l.reader.EnableDecompression()
	l.writer.EnableCompression(threshold)
}
