package transport

// queue is an unbounded FIFO channel. Push never blocks on a slow consumer;
// items pile up in memory until Out is drained. Closing the queue closes Out
// once every pending item has been delivered.
type queue[T any] struct {
	in  chan T
	out chan T
}

func newQueue[T any]() *queue[T] {
	q := &queue[T]{
		in:  make(chan T),
		out: make(chan T),
	}
	go q.run()
	return q
}

// Push enqueues v. It must not be called after Close.
func (q *queue[T]) Push(v T) { q.in <- v }

// Close stops accepting items.
func (q *queue[T]) Close() { close(q.in) }

// Out delivers items in push order.
func (q *queue[T]) Out() <-chan T { return q.out }

func (q *queue[T]) run() {
	defer close(q.out)
	var pending []T
	in := q.in
	for in != nil || len(pending) > 0 {
		var (
			out  chan T
			next T
		)
		if len(pending) > 0 {
			out = q.out
			next = pending[0]
		}
		select {
		case v, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			pending = append(pending, v)
		case out <- next:
			var zero T
			pending[0] = zero
			pending = pending[1:]
		}
	}
}
