package keyring_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twclone/internal/keyring"
)

type fakeDB struct {
	keys             []keyring.Key
	defaultID        string
	placeholderCalls int
}

func (f *fakeDB) ListActiveKeys() ([]keyring.Key, error) { return f.keys, nil }
func (f *fakeDB) DefaultKeyID() (string, error)          { return f.defaultID, nil }
func (f *fakeDB) InsertPlaceholderKey() (keyring.Key, error) {
	f.placeholderCalls++
	var k = keyring.Key{ID: "placeholder", Secret: []byte("generated-secret")}
	f.keys = append(f.keys, k)
	f.defaultID = k.ID
	return k, nil
}

func TestInstallDefaultFromDBLoadsKeys(t *testing.T) {
	var db = &fakeDB{
		keys:      []keyring.Key{{ID: "k0", Secret: []byte("s0")}, {ID: "k1", Secret: []byte("s1")}},
		defaultID: "k1",
	}
	var kr = keyring.New()
	require.NoError(t, kr.InstallDefaultFromDB(db))
	assert.Equal(t, 2, kr.Len())

	var def, ok = kr.DefaultSenderKey()
	require.True(t, ok)
	assert.Equal(t, "k1", def.ID)

	var key, found = kr.Lookup("k0")
	require.True(t, found)
	assert.Equal(t, []byte("s0"), key.Secret)
}

func TestInstallDefaultFromDBGeneratesPlaceholderOnce(t *testing.T) {
	var db = &fakeDB{}
	var kr = keyring.New()
	require.NoError(t, kr.InstallDefaultFromDB(db))
	assert.Equal(t, 1, db.placeholderCalls)
	assert.Equal(t, 1, kr.Len())

	var def, ok = kr.DefaultSenderKey()
	require.True(t, ok)
	assert.Equal(t, "placeholder", def.ID)
}

func TestInstallFromEnvRequiresBothVars(t *testing.T) {
	t.Setenv("S2S_KEY_ID", "env-key")
	t.Setenv("S2S_KEY_B64", "")

	var kr = keyring.New()
	assert.Error(t, kr.InstallFromEnv())
}

func TestInstallFromEnvOverridesDefault(t *testing.T) {
	t.Setenv("S2S_KEY_ID", "env-key")
	t.Setenv("S2S_KEY_B64", "c2VjcmV0MTIz") // "secret123"

	var kr = keyring.New()
	require.NoError(t, kr.InstallFromEnv())

	var def, ok = kr.DefaultSenderKey()
	require.True(t, ok)
	assert.Equal(t, "env-key", def.ID)
	assert.Equal(t, []byte("secret123"), def.Secret)
}

func TestInstallFromEnvRejectsBadPadding(t *testing.T) {
	t.Setenv("S2S_KEY_ID", "env-key")
	t.Setenv("S2S_KEY_B64", "abc") // not a multiple of 4

	var kr = keyring.New()
	assert.Error(t, kr.InstallFromEnv())
}

func TestLookupMissingKeyReturnsFalse(t *testing.T) {
	var kr = keyring.New()
	var _, ok = kr.Lookup("nope")
	assert.False(t, ok)
}
