package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"sort"
	"strings"

	gjwt "github.com/golang-jwt/jwt/v5"
)

// Algorithm is a JWS "alg" header value accepted by this package.
type Algorithm string

const (
	AlgHS256 Algorithm = "HS256"
	AlgEdDSA Algorithm = "EdDSA"
)

// MinHMACSecretBytes is the shortest accepted HS256 secret.
const MinHMACSecretBytes = 32

// Key is one versioned signing or verification key.
type Key struct {
	ID        string
	Algorithm Algorithm

	secret  []byte
	private ed25519.PrivateKey
	public  ed25519.PublicKey
}

// NewHMACKey returns an HS256 key. The secret is copied.
func NewHMACKey(id string, secret []byte) (Key, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Key{}, errors.New("key id must not be empty")
	}
	if len(secret) < MinHMACSecretBytes {
		return Key{}, fmt.Errorf("hs256 secret for kid %q must be at least %d bytes", id, MinHMACSecretBytes)
	}
	return Key{
		ID:        id,
		Algorithm: AlgHS256,
		secret:    append([]byte(nil), secret...),
	}, nil
}

// NewEd25519Key returns an EdDSA key from raw or PEM encoded material.
// privateKey may be empty for verify-only keys; publicKey may be empty when
// it can be derived from privateKey.
func NewEd25519Key(id string, privateKey, publicKey []byte) (Key, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Key{}, errors.New("key id must not be empty")
	}
	k := Key{ID: id, Algorithm: AlgEdDSA}
	if len(privateKey) > 0 {
		priv, err := parseEdPrivateKey(privateKey)
		if err != nil {
			return Key{}, fmt.Errorf("kid %q: %w", id, err)
		}
		k.private = priv
		k.public = priv.Public().(ed25519.PublicKey)
	}
	if len(publicKey) > 0 {
		pub, err := parseEdPublicKey(publicKey)
		if err != nil {
			return Key{}, fmt.Errorf("kid %q: %w", id, err)
		}
		if k.public != nil && !k.public.Equal(pub) {
			return Key{}, fmt.Errorf("kid %q: public key does not match private key", id)
		}
		k.public = pub
	}
	if k.public == nil {
		return Key{}, fmt.Errorf("kid %q: ed25519 requires a private or public key", id)
	}
	return k, nil
}

// CanSign reports whether the key carries signing material.
func (k Key) CanSign() bool {
	switch k.Algorithm {
	case AlgHS256:
		return len(k.secret) > 0
	case AlgEdDSA:
		return len(k.private) > 0
	default:
		return false
	}
}

func (k Key) method() gjwt.SigningMethod {
	if k.Algorithm == AlgHS256 {
		return gjwt.SigningMethodHS256
	}
	return gjwt.SigningMethodEdDSA
}

func (k Key) signKey() interface{} {
	if k.Algorithm == AlgHS256 {
		return k.secret
	}
	return k.private
}

func (k Key) verifyKey() interface{} {
	if k.Algorithm == AlgHS256 {
		return k.secret
	}
	return k.public
}

// Keyring is an immutable set of keys with one active signing key.
type Keyring struct {
	active string
	keys   map[string]Key
	algs   []string
}

// NewKeyring validates keys and selects activeID as the signing key.
func NewKeyring(activeID string, keys ...Key) (*Keyring, error) {
	if len(keys) == 0 {
		return nil, errors.New("keyring requires at least one key")
	}
	ring := &Keyring{
		active: strings.TrimSpace(activeID),
		keys:   make(map[string]Key, len(keys)),
	}
	algs := map[string]struct{}{}
	for _, k := range keys {
		if k.ID == "" {
			return nil, errors.New("keyring contains a key without id")
		}
		if k.Algorithm != AlgHS256 && k.Algorithm != AlgEdDSA {
			return nil, fmt.Errorf("kid %q: unsupported algorithm %q", k.ID, k.Algorithm)
		}
		if _, dup := ring.keys[k.ID]; dup {
			return nil, fmt.Errorf("duplicate kid %q", k.ID)
		}
		ring.keys[k.ID] = k
		algs[string(k.Algorithm)] = struct{}{}
	}
	active, ok := ring.keys[ring.active]
	if !ok {
		return nil, fmt.Errorf("active kid %q is not present in keyring", ring.active)
	}
	if !active.CanSign() {
		return nil, fmt.Errorf("active kid %q has no signing material", ring.active)
	}
	for alg := range algs {
		ring.algs = append(ring.algs, alg)
	}
	sort.Strings(ring.algs)
	return ring, nil
}

// ActiveKeyID returns the id of the signing key.
func (r *Keyring) ActiveKeyID() string {
	return r.active
}

// ActiveAlgorithm returns the algorithm of the signing key.
func (r *Keyring) ActiveAlgorithm() Algorithm {
	return r.keys[r.active].Algorithm
}

// KeyIDs returns every key id in the ring, sorted.
func (r *Keyring) KeyIDs() []string {
	ids := make([]string, 0, len(r.keys))
	for id := range r.keys {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Keyring) lookup(kid string) (Key, bool) {
	k, ok := r.keys[kid]
	return k, ok
}

func (r *Keyring) signer() Key {
	return r.keys[r.active]
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return append(ed25519.PrivateKey(nil), key...), nil
	}
	if len(key) == ed25519.SeedSize {
		return ed25519.NewKeyFromSeed(key), nil
	}
	parsed, err := gjwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return append(ed25519.PublicKey(nil), key...), nil
	}
	parsed, err := gjwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
