package transport

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Pump runs the read and write halves of a connection concurrently. Frames
// read from the stream arrive on Inbound; frames passed to Send are written
// in order. When either half fails the other stops too, and Wait reports the
// first failure.
type Pump struct {
	id    string
	ctx   context.Context
	stop  context.CancelFunc
	group *errgroup.Group
	log   *slog.Logger

	inbound  *queue[[]byte]
	outbound *queue[*WireFrame]
	sendDone chan struct{}

	mu         sync.Mutex
	sendClosed bool
}

// Spin starts both loops over l. The caller must drain Inbound until it is
// closed, and eventually call Wait.
func Spin(ctx context.Context, id string, l *ReadWriteLocker, log *slog.Logger) *Pump {
	if log == nil {
		log = tlog
	}
	ctx, stop := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(ctx)
	p := &Pump{
		id:       id,
		ctx:      gctx,
		stop:     stop,
		group:    group,
		log:      log,
		inbound:  newQueue[[]byte](),
		outbound: newQueue[*WireFrame](),
		sendDone: make(chan struct{}),
	}
	group.Go(func() error { return p.readLoop(gctx, l) })
	group.Go(func() error { return p.writeLoop(gctx, l) })
	return p
}

// ID returns the connection id the pump was started with.
func (p *Pump) ID() string { return p.id }

// Inbound delivers frames as returned by Reader.NextFrame. It is closed when
// the read loop ends.
func (p *Pump) Inbound() <-chan []byte { return p.inbound.Out() }

// Send queues f for writing. It never blocks; it fails with ErrClosed once
// CloseSend was called or the pump has stopped.
func (p *Pump) Send(f *WireFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendClosed || p.ctx.Err() != nil {
		return ErrClosed
	}
	p.outbound.Push(f)
	return nil
}

// CloseSend lets the write loop finish once every queued frame is written.
// The read loop keeps running.
func (p *Pump) CloseSend() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.sendClosed {
		p.sendClosed = true
		p.outbound.Close()
	}
}

// SendDone is closed when the write loop has ended, after writing every
// frame queued before CloseSend unless it failed or was stopped first.
func (p *Pump) SendDone() <-chan struct{} { return p.sendDone }

// Stop cancels both loops. Frames still queued for sending are dropped.
func (p *Pump) Stop() { p.stop() }

// Wait blocks until both loops have ended and returns the first error.
// A stop requested through Stop or the parent context is not an error.
func (p *Pump) Wait() error {
	err := p.group.Wait()
	p.stop()
	return err
}

func (p *Pump) readLoop(ctx context.Context, l *ReadWriteLocker) error {
	defer p.inbound.Close()
	for {
		frame, err := l.NextFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, ErrClosed) {
				p.log.Debug("peer closed stream", "err", err)
			} else {
				p.log.Warn("read loop failed", "err", err)
			}
			return err
		}
		p.inbound.Push(frame)
	}
}

func (p *Pump) writeLoop(ctx context.Context, l *ReadWriteLocker) error {
	defer close(p.sendDone)
	defer p.discardOutbound()
	for {
		select {
		case f, ok := <-p.outbound.Out():
			if !ok {
				return nil
			}
			if err := l.SendPacket(f); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				p.log.Warn("write loop failed", "err", err)
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// discardOutbound closes the send side and drains what is left so the queue
// goroutine can exit.
func (p *Pump) discardOutbound() {
	p.CloseSend()
	go func() {
		for range p.outbound.Out() {
		}
	}()
}
