// Package keyring holds up to eight named HMAC keys in process memory, per
// §4.1 of the specification. It is read-mostly: lookups may race freely,
// writes (install) serialize on a mutex, matching the teacher's treatment
// of allocator.State and Resolver.replicas.
package keyring

import (
	"encoding/base64"
	"os"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// MaxKeys is the hard ceiling on active keys the spec allows.
const MaxKeys = 8

// Key is a named HMAC-SHA-256 key.
type Key struct {
	ID     string
	Secret []byte
}

// DB is the subset of the repository the Keyring needs to load and persist
// keys; RepoDB adapts an internal/repo.KeyRepository to it.
type DB interface {
	ListActiveKeys() ([]Key, error)
	DefaultKeyID() (string, error)
	InsertPlaceholderKey() (Key, error)
}

// Keyring caches up to MaxKeys Keys and the id of the default sender key.
type Keyring struct {
	mu         sync.RWMutex
	keys       map[string]Key
	defaultID  string
}

// New returns an empty Keyring. Call InstallDefaultFromDB and/or
// InstallFromEnv before use.
func New() *Keyring {
	return &Keyring{keys: make(map[string]Key, MaxKeys)}
}

// ErrKeyringExhausted is returned by install when neither the environment
// nor the database, even after a one-shot placeholder generation retry,
// yields an active key.
var ErrKeyringExhausted = errors.New("keyring: no active key available after retry")

// InstallDefaultFromDB loads active keys from db and marks its reported
// default as this Keyring's default sender key. If db reports no active
// keys, a one-shot placeholder is generated and the load is retried exactly
// once; a second failure is fatal (returns ErrKeyringExhausted) to any
// component requiring the transport.
func (k *Keyring) InstallDefaultFromDB(db DB) error {
	var keys, err = db.ListActiveKeys()
	if err != nil {
		return errors.WithMessage(err, "listing active keys")
	}

	if len(keys) == 0 {
		log.Warn("keyring: no active key in database; generating placeholder")
		if _, err = db.InsertPlaceholderKey(); err != nil {
			return errors.WithMessage(err, "inserting placeholder key")
		}
		if keys, err = db.ListActiveKeys(); err != nil {
			return errors.WithMessage(err, "listing active keys (retry)")
		}
		if len(keys) == 0 {
			return ErrKeyringExhausted
		}
	}

	var defaultID, derr = db.DefaultKeyID()
	if derr != nil {
		return errors.WithMessage(derr, "resolving default key id")
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	for _, key := range keys {
		if len(k.keys) >= MaxKeys {
			log.WithField("key_id", key.ID).Warn("keyring: dropping key beyond MaxKeys")
			continue
		}
		k.keys[key.ID] = key
	}
	k.defaultID = defaultID
	return nil
}

// InstallFromEnv overrides the default key from S2S_KEY_ID / S2S_KEY_B64,
// if both are set. Base-64 decoding is strict: no whitespace is tolerated,
// and the encoded length must be a multiple of four including padding.
func (k *Keyring) InstallFromEnv() error {
	var id, b64 = os.Getenv("S2S_KEY_ID"), os.Getenv("S2S_KEY_B64")
	if id == "" && b64 == "" {
		return nil
	}
	if id == "" || b64 == "" {
		return errors.New("keyring: S2S_KEY_ID and S2S_KEY_B64 must both be set")
	}
	if len(b64)%4 != 0 {
		return errors.New("keyring: S2S_KEY_B64 is not a multiple of four characters")
	}

	var secret, err = base64.StdEncoding.Strict().DecodeString(b64)
	if err != nil {
		return errors.WithMessage(err, "decoding S2S_KEY_B64")
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[id] = Key{ID: id, Secret: secret}
	k.defaultID = id
	return nil
}

// Lookup returns the Key named by id, or false if no such key is active.
func (k *Keyring) Lookup(id string) (Key, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	var key, ok = k.keys[id]
	return key, ok
}

// DefaultSenderKey returns the Keyring's default key for outbound signing,
// or false if no default has been installed.
func (k *Keyring) DefaultSenderKey() (Key, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.defaultID == "" {
		return Key{}, false
	}
	var key, ok = k.keys[k.defaultID]
	return key, ok
}

// Len reports the number of active keys currently cached.
func (k *Keyring) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.keys)
}
