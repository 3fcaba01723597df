package transport

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"twclone/internal/keyring"
)

// Listener wraps a net.Listener with the blocking-with-deadline accept
// contract of §4.2.
type Listener struct {
	nl net.Listener
}

// Listen binds addr (host:port, or ":port" for all interfaces).
func Listen(addr string) (*Listener, error) {
	var nl, err = net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.WithMessage(err, "listen")
	}
	return &Listener{nl: nl}, nil
}

// Close stops accepting new connections.
func (l *Listener) Close() error { return l.nl.Close() }

// Accept blocks until a new connection arrives or deadline elapses,
// returning ErrTimeout on elapse. A deadline of zero blocks indefinitely.
func (l *Listener) Accept(deadline time.Duration) (net.Conn, error) {
	if dl, ok := l.nl.(interface{ SetDeadline(time.Time) error }); ok && deadline > 0 {
		_ = dl.SetDeadline(time.Now().Add(deadline))
	}
	var nc, err = l.nl.Accept()
	if err != nil {
		return nil, classifyIOErr(err)
	}
	return nc, nil
}

// Dial opens a Conn to addr, retrying with bounded exponential backoff (a
// 100ms floor, a 5s ceiling) until overallDeadline elapses.
func Dial(ctx context.Context, addr string, kr *keyring.Keyring, frameCap int, overallDeadline time.Duration) (*Conn, error) {
	const (
		floor   = 100 * time.Millisecond
		ceiling = 5 * time.Second
	)

	var deadline = time.Now().Add(overallDeadline)
	var backoff = floor

	for attempt := 0; ; attempt++ {
		var dialer net.Dialer
		var dctx, cancel = context.WithTimeout(ctx, backoff)
		var nc, err = dialer.DialContext(dctx, "tcp", addr)
		cancel()

		if err == nil {
			return New(nc, kr, frameCap, nil), nil
		}

		if ctx.Err() != nil {
			return nil, errors.WithMessage(ctx.Err(), "dial cancelled")
		}
		if time.Now().Add(backoff).After(deadline) {
			return nil, errors.Wrapf(err, "dial %s: deadline exceeded after %d attempts", addr, attempt+1)
		}

		log.WithField("addr", addr).WithField("attempt", attempt+1).
			WithField("backoff", backoff).Debug("transport: dial failed, retrying")

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, errors.WithMessage(ctx.Err(), "dial cancelled")
		}

		backoff *= 2
		if backoff > ceiling {
			backoff = ceiling
		}
	}
}
