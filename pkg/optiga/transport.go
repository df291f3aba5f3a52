package optiga

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/andrei-cloud/anet"
)

// Transport carries one frame to the chip and returns its response frame.
type Transport interface {
	Transmit(ctx context.Context, frame []byte) ([]byte, error)
	Close() error
}

// Executor is a chip that runs frames in-process.
type Executor interface {
	Execute(frame []byte) []byte
}

// Local is an in-process transport.
type Local struct {
	chip Executor
}

// NewLocal wraps an in-process chip.
func NewLocal(chip Executor) *Local {
	return &Local{chip: chip}
}

// Transmit implements Transport.
func (l *Local) Transmit(ctx context.Context, frame []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return l.chip.Execute(frame), nil
}

// Close implements Transport.
func (l *Local) Close() error { return nil }

type sender interface {
	SendContext(ctx context.Context, req *[]byte) ([]byte, error)
}

// Remote reaches a chip served over TCP with anet framing.
type Remote struct {
	broker sender
	close  func()
}

// DialRemote prepares a single-connection anet pool and broker for addr.
// Connections are established lazily on the first frame.
func DialRemote(addr string, timeout time.Duration) (*Remote, error) {
	if addr == "" {
		return nil, errors.New("remote transport: empty address")
	}
	factory := func(addr string) (anet.PoolItem, error) {
		conn, err := net.DialTimeout("tcp", addr, timeout)
		if err != nil {
			return nil, err
		}

		return conn, nil
	}

	pool := anet.NewPool(1, factory, addr, nil)
	broker := anet.NewBroker([]anet.Pool{pool}, 1, nil, nil)
	go broker.Start()

	return &Remote{
		broker: broker,
		close: func() {
			broker.Close()
			pool.Close()
		},
	}, nil
}

// Transmit implements Transport. The request waits for the pooled
// connection instead of failing while another frame holds it.
func (r *Remote) Transmit(ctx context.Context, frame []byte) ([]byte, error) {
	resp, err := r.broker.SendContext(ctx, &frame)
	if err != nil {
		return nil, fmt.Errorf("remote transmit: %w", err)
	}

	return resp, nil
}

// Close releases the broker and its pool.
func (r *Remote) Close() error {
	r.close()

	return nil
}
