package transport

// byteQueue is a fixed-capacity FIFO of bytes. Consumed bytes are skipped by
// advancing r; the unread tail is moved to the front only when an append
// would otherwise run past the end of buf.
type byteQueue struct {
	buf []byte
	r   int
}

func newByteQueue(capacity int) byteQueue {
	return byteQueue{buf: make([]byte, 0, capacity)}
}

// Len returns the number of unread bytes.
func (q *byteQueue) Len() int { return len(q.buf) - q.r }

// Cap returns the fixed capacity.
func (q *byteQueue) Cap() int { return cap(q.buf) }

// Free returns how many more bytes the queue can hold.
func (q *byteQueue) Free() int { return cap(q.buf) - q.Len() }

// Bytes returns the unread bytes. The slice aliases the queue.
func (q *byteQueue) Bytes() []byte { return q.buf[q.r:] }

// Advance discards the first n unread bytes.
func (q *byteQueue) Advance(n int) {
	q.r += n
	if q.r == len(q.buf) {
		q.buf = q.buf[:0]
		q.r = 0
	}
}

// Tail returns up to n bytes of writable space past the unread bytes,
// compacting first if needed. Commit must follow with the count written.
func (q *byteQueue) Tail(n int) []byte {
	n = min(n, q.Free())
	if len(q.buf)+n > cap(q.buf) {
		q.compact()
	}
	return q.buf[len(q.buf) : len(q.buf)+n]
}

// Commit extends the unread bytes by n bytes previously written into Tail.
func (q *byteQueue) Commit(n int) {
	q.buf = q.buf[:len(q.buf)+n]
}

// Append copies as much of p as fits and returns the count copied.
func (q *byteQueue) Append(p []byte) int {
	dst := q.Tail(len(p))
	n := copy(dst, p)
	q.Commit(n)
	return n
}

func (q *byteQueue) compact() {
	n := copy(q.buf[:cap(q.buf)], q.buf[q.r:])
	q.buf = q.buf[:n]
	q.r = 0
}
