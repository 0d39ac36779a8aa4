package credstore

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/MrEthical07/applock/password"
	"go.uber.org/zap"
)

// StoredSession is the persisted credential set.
type StoredSession struct {
	Token        string
	Username     string
	PasswordHash string
	Profile      []byte
}

// HasSession reports whether a restorable session exists (token and username).
func (s StoredSession) HasSession() bool {
	return s.Token != "" && s.Username != ""
}

// Vault is the typed accessor over a Store.
type Vault struct {
	store  Store
	hasher *password.Hasher
	log    *zap.Logger
}

// NewVault wraps store. hasher may be nil, in which case passwords are
// stored and compared verbatim.
func NewVault(store Store, hasher *password.Hasher, log *zap.Logger) *Vault {
	if log == nil {
		log = zap.NewNop()
	}
	return &Vault{store: store, hasher: hasher, log: log}
}

// Store exposes the underlying capability.
func (v *Vault) Store() Store {
	return v.store
}

// Load reads the whole credential set. Missing keys yield empty fields.
func (v *Vault) Load(ctx context.Context) (StoredSession, error) {
	var out StoredSession
	var err error
	if out.Token, err = v.get(ctx, KeyToken); err != nil {
		return StoredSession{}, err
	}
	if out.Username, err = v.get(ctx, KeyUsername); err != nil {
		return StoredSession{}, err
	}
	if out.PasswordHash, err = v.get(ctx, KeyPassword); err != nil {
		return StoredSession{}, err
	}
	profile, err := v.get(ctx, KeyUserProfile)
	if err != nil {
		return StoredSession{}, err
	}
	if profile != "" {
		out.Profile = []byte(profile)
	}
	return out, nil
}

// SaveCredentials persists a freshly accepted login. An empty profile
// removes any previously cached one.
func (v *Vault) SaveCredentials(ctx context.Context, token, username, plain string, profile []byte) error {
	if token == "" || username == "" {
		return errors.New("credstore: token and username are required")
	}
	if err := v.store.Set(ctx, KeyToken, token); err != nil {
		return err
	}
	if err := v.store.Set(ctx, KeyUsername, username); err != nil {
		return err
	}
	if plain != "" {
		encoded, err := v.encodePassword(plain)
		if err != nil {
			return err
		}
		if err := v.store.Set(ctx, KeyPassword, encoded); err != nil {
			return err
		}
	}
	return v.SaveProfile(ctx, profile)
}

// SaveProfile replaces the cached profile blob.
func (v *Vault) SaveProfile(ctx context.Context, profile []byte) error {
	if len(profile) == 0 {
		return v.store.Delete(ctx, KeyUserProfile)
	}
	return v.store.Set(ctx, KeyUserProfile, string(profile))
}

// VerifyPassword compares plain against the stored value in s. Values
// written before hashing was introduced are compared verbatim and upgraded
// on a match; hashes with outdated parameters are re-hashed on a match.
func (v *Vault) VerifyPassword(ctx context.Context, s StoredSession, plain string) (bool, error) {
	if s.PasswordHash == "" || plain == "" {
		return false, nil
	}
	if v.hasher == nil {
		return subtle.ConstantTimeCompare([]byte(s.PasswordHash), []byte(plain)) == 1, nil
	}

	ok, err := v.hasher.Verify(plain, s.PasswordHash)
	if errors.Is(err, password.ErrMalformedHash) {
		if subtle.ConstantTimeCompare([]byte(s.PasswordHash), []byte(plain)) != 1 {
			return false, nil
		}
		v.rehash(ctx, plain, "legacy_plaintext")
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if ok {
		if up, err := v.hasher.NeedsUpgrade(s.PasswordHash); err == nil && up {
			v.rehash(ctx, plain, "parameters_upgraded")
		}
	}
	return ok, nil
}

// ClearAuth deletes the four auth keys together. The theme survives.
func (v *Vault) ClearAuth(ctx context.Context) error {
	return v.store.Delete(ctx, AuthKeys...)
}

// ThemeMode returns the persisted theme ("light", "dark") or "" when unset.
func (v *Vault) ThemeMode(ctx context.Context) (string, error) {
	return v.get(ctx, KeyThemeMode)
}

// SetThemeMode persists mode. Only "light" and "dark" are accepted.
func (v *Vault) SetThemeMode(ctx context.Context, mode string) error {
	if mode != "light" && mode != "dark" {
		return fmt.Errorf("credstore: unsupported theme mode %q", mode)
	}
	return v.store.Set(ctx, KeyThemeMode, mode)
}

// ClearThemeMode removes the persisted theme.
func (v *Vault) ClearThemeMode(ctx context.Context) error {
	return v.store.Delete(ctx, KeyThemeMode)
}

func (v *Vault) get(ctx context.Context, key string) (string, error) {
	val, ok, err := v.store.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return val, nil
}

func (v *Vault) encodePassword(plain string) (string, error) {
	if v.hasher == nil {
		return plain, nil
	}
	return v.hasher.Hash(plain)
}

func (v *Vault) rehash(ctx context.Context, plain, reason string) {
	encoded, err := v.hasher.Hash(plain)
	if err != nil {
		v.log.Warn("stored password rehash failed", zap.String("reason", reason), zap.Error(err))
		return
	}
	// Best-effort: a failed write leaves the old, still valid value in place.
	if err := v.store.Set(ctx, KeyPassword, encoded); err != nil {
		v.log.Warn("stored password rehash write failed", zap.String("reason", reason), zap.Error(err))
	}
}
