package transport

import "testing"

func TestQueueDoesNotBlockProducer(t *testing.T) {
	q := newQueue[int]()
	// Nobody reads until every item is pushed.
	for i := 0; i < 10000; i++ {
		q.Push(i)
	}
	q.Close()

	want := 0
	for v := range q.Out() {
		if v != want {
			t.Fatalf("got %d, want %d", v, want)
		}
		want++
	}
	if want != 10000 {
		t.Fatalf("received %d items, want 10000", want)
	}
}

func TestQueueCloseEmpty(t *testing.T) {
	q := newQueue[string]()
	q.Close()
	if _, ok := <-q.Out(); ok {
		t.Fatal("Out should be closed")
	}
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrFrameTooLarge, "frame_too_large"},
		{ErrMalformedLength, "malformed_length"},
		{ErrDecompression, "decompression"},
		{ErrTimeout, "timeout"},
		{ErrClosed, "other"},
	}
	for _, tt := range tests {
		if got := errorKind(tt.err); got != tt.want {
			t.Errorf("errorKind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
