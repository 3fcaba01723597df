// Package transport implements the length-prefixed, HMAC-authenticated JSON
// link between the Session Server and the Engine (§4.2, §6). The framing
// discipline generalizes message.JSONFraming's line-delimited Framing
// interface (Marshal/Unpack/Unmarshal over a bufio stream) to a 4-byte
// big-endian length prefix instead of a newline.
package transport

import (
	"bufio"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"twclone/internal/keyring"
)

// DefaultFrameCap is the hard per-frame ceiling the spec imposes; frames
// larger than this are rejected before JSON parsing.
const DefaultFrameCap = 64 * 1024

// MinFrameCap is the smallest practical cap the spec allows for operators
// who override DefaultFrameCap.
const MinFrameCap = 4 * 1024

// Err is the distinct error taxonomy of §4.2. Each exported sentinel is
// compared with errors.Cause(err) == transport.ErrX by callers.
var (
	ErrTimeout     = errors.New("transport: i/o timeout")
	ErrClosed      = errors.New("transport: connection closed")
	ErrIO          = errors.New("transport: i/o error")
	ErrTooLarge    = errors.New("transport: frame exceeds cap")
	ErrBadJSON     = errors.New("transport: malformed json frame")
	ErrAuthRequired = errors.New("transport: key_id/sig missing")
	ErrAuthBad     = errors.New("transport: signature verification failed")
)

// Counters tracks the per-process counters named in §4.2/§8.
type Counters struct {
	SentOK   uint64
	RecvOK   uint64
	AuthFail uint64
	TooLarge uint64
}

func (c *Counters) incSentOK()   { atomic.AddUint64(&c.SentOK, 1) }
func (c *Counters) incRecvOK()   { atomic.AddUint64(&c.RecvOK, 1) }
func (c *Counters) incAuthFail() { atomic.AddUint64(&c.AuthFail, 1) }
func (c *Counters) incTooLarge() { atomic.AddUint64(&c.TooLarge, 1) }

// Snapshot returns a point-in-time copy safe to read without races.
func (c *Counters) Snapshot() Counters {
	return Counters{
		SentOK:   atomic.LoadUint64(&c.SentOK),
		RecvOK:   atomic.LoadUint64(&c.RecvOK),
		AuthFail: atomic.LoadUint64(&c.AuthFail),
		TooLarge: atomic.LoadUint64(&c.TooLarge),
	}
}

// Conn wraps a net.Conn with the framing, signing, and verification
// discipline of §4.2. It is not safe for concurrent use by multiple
// goroutines on the same direction (read vs write may proceed
// concurrently; two concurrent writers, or two concurrent readers, may
// not).
type Conn struct {
	nc       net.Conn
	br       *bufio.Reader
	bw       *bufio.Writer
	keyring  *keyring.Keyring
	frameCap int
	counters *Counters
}

// New wraps nc with the given Keyring (used to sign outbound and verify
// inbound frames) and frame cap (DefaultFrameCap if zero).
func New(nc net.Conn, kr *keyring.Keyring, frameCap int, counters *Counters) *Conn {
	if frameCap <= 0 {
		frameCap = DefaultFrameCap
	}
	if counters == nil {
		counters = new(Counters)
	}
	return &Conn{
		nc:       nc,
		br:       bufio.NewReader(nc),
		bw:       bufio.NewWriter(nc),
		keyring:  kr,
		frameCap: frameCap,
		counters: counters,
	}
}

// Counters returns the shared counters this Conn increments.
func (c *Conn) Counters() *Counters { return c.counters }

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.nc.Close() }

// Send serializes obj to compact JSON, signs it with the Keyring's default
// sender key, and writes the framed result. obj must marshal to a JSON
// object (a map or struct); Send adds/overwrites its "key_id" and "sig"
// fields.
func (c *Conn) Send(ctx context.Context, obj map[string]interface{}, deadline time.Duration) error {
	var key, ok = c.keyring.DefaultSenderKey()
	if !ok {
		return ErrAuthRequired
	}

	delete(obj, "key_id")
	delete(obj, "sig")

	var unsigned, err = json.Marshal(obj)
	if err != nil {
		return errors.WithMessage(err, "marshal")
	}

	var mac = hmac.New(sha256.New, key.Secret)
	mac.Write(unsigned)
	var sig = mac.Sum(nil)

	obj["key_id"] = key.ID
	obj["sig"] = encodeSig(sig)

	var signed []byte
	if signed, err = json.Marshal(obj); err != nil {
		return errors.WithMessage(err, "marshal signed")
	}
	if len(signed) > c.frameCap {
		return ErrTooLarge
	}

	if err = c.setWriteDeadline(deadline); err != nil {
		return err
	}

	var lenHdr [4]byte
	binary.BigEndian.PutUint32(lenHdr[:], uint32(len(signed)))
	if _, err = retryEINTRWrite(c.bw, lenHdr[:]); err != nil {
		return classifyIOErr(err)
	}
	if _, err = retryEINTRWrite(c.bw, signed); err != nil {
		return classifyIOErr(err)
	}
	if err = c.bw.Flush(); err != nil {
		return classifyIOErr(err)
	}

	c.counters.incSentOK()
	return nil
}

// Recv reads one frame, verifies its signature, and returns the decoded
// object with "key_id"/"sig" still present (handlers ignore them).
func (c *Conn) Recv(ctx context.Context, deadline time.Duration) (map[string]interface{}, error) {
	if err := c.setReadDeadline(deadline); err != nil {
		return nil, err
	}

	var lenHdr [4]byte
	if _, err := io.ReadFull(c.br, lenHdr[:]); err != nil {
		return nil, classifyIOErr(err)
	}
	var n = binary.BigEndian.Uint32(lenHdr[:])
	if n == 0 || int(n) > c.frameCap {
		c.counters.incTooLarge()
		return nil, ErrTooLarge
	}

	var buf = make([]byte, n)
	if _, err := io.ReadFull(c.br, buf); err != nil {
		return nil, classifyIOErr(err)
	}

	var obj map[string]interface{}
	if err := json.Unmarshal(buf, &obj); err != nil {
		return nil, ErrBadJSON
	}

	var keyID, _ = obj["key_id"].(string)
	var sigB64, _ = obj["sig"].(string)
	if keyID == "" || sigB64 == "" {
		return nil, ErrAuthRequired
	}
	var key, ok = c.keyring.Lookup(keyID)
	if !ok {
		c.counters.incAuthFail()
		return nil, ErrAuthBad
	}

	var unsigned = make(map[string]interface{}, len(obj))
	for k, v := range obj {
		if k == "key_id" || k == "sig" {
			continue
		}
		unsigned[k] = v
	}
	var unsignedJSON, merr = json.Marshal(unsigned)
	if merr != nil {
		return nil, ErrBadJSON
	}

	var mac = hmac.New(sha256.New, key.Secret)
	mac.Write(unsignedJSON)
	var want = mac.Sum(nil)
	var got = decodeSig(sigB64)
	if got == nil || !hmac.Equal(want, got) {
		c.counters.incAuthFail()
		return nil, ErrAuthBad
	}

	c.counters.incRecvOK()
	return obj, nil
}

func (c *Conn) setReadDeadline(d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if err := c.nc.SetReadDeadline(time.Now().Add(d)); err != nil {
		return classifyIOErr(err)
	}
	return nil
}

func (c *Conn) setWriteDeadline(d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if err := c.nc.SetWriteDeadline(time.Now().Add(d)); err != nil {
		return classifyIOErr(err)
	}
	return nil
}
