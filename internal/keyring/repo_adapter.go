package keyring

import "twclone/internal/repo"

// RepoDB adapts internal/repo's KeyRepository to the Keyring's own DB
// interface, translating repo.KeyRow to the local Key type. Kept separate
// from keyring.go so the core DB contract has no import of internal/repo.
type RepoDB struct {
	Repo repo.KeyRepository
}

func (a RepoDB) ListActiveKeys() ([]Key, error) {
	var rows, err = a.Repo.ListActiveKeys()
	if err != nil {
		return nil, err
	}
	var out = make([]Key, len(rows))
	for i, r := range rows {
		out[i] = Key{ID: r.ID, Secret: r.Secret}
	}
	return out, nil
}

func (a RepoDB) DefaultKeyID() (string, error) {
	return a.Repo.DefaultKeyID()
}

func (a RepoDB) InsertPlaceholderKey() (Key, error) {
	var r, err = a.Repo.InsertPlaceholderKey()
	if err != nil {
		return Key{}, err
	}
	return Key{ID: r.ID, Secret: r.Secret}, nil
}
