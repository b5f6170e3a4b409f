package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"
)

const schemaVersion = 1

// Identity is the persistent per-device credential that authenticates this
// dashboard instance to the gateway. DeviceID is the hex SHA-256 of the raw
// public key, so the server can verify the identity binding.
type Identity struct {
	Version    int    `yaml:"version"`
	DeviceID   string `yaml:"device_id"`
	PublicKey  string `yaml:"public_key"`  // base64 raw Ed25519 public key
	PrivateKey string `yaml:"private_key"` // base64 Ed25519 private key (seed || public)
	CreatedAt  int64  `yaml:"created_at"`  // unix seconds
}

// DeriveDeviceID returns the hex SHA-256 of the raw public key bytes.
func DeriveDeviceID(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:])
}

// Sign signs msg with the identity's private key and returns the signature
// base64-encoded.
func (id *Identity) Sign(msg string) (string, error) {
	keyBytes, err := base64.StdEncoding.DecodeString(id.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("decode private key: %w", err)
	}
	if len(keyBytes) != ed25519.PrivateKeySize {
		return "", fmt.Errorf("private key is %d bytes, want %d", len(keyBytes), ed25519.PrivateKeySize)
	}
	sig := ed25519.Sign(ed25519.PrivateKey(keyBytes), []byte(msg))
	return base64.StdEncoding.EncodeToString(sig), nil
}

func (id *Identity) wellFormed() bool {
	return id != nil && id.Version == schemaVersion &&
		id.DeviceID != "" && id.PublicKey != "" && id.PrivateKey != ""
}

// Ensure loads a previously saved identity or generates and persists a new
// one. A store read error is treated as "no identity found" rather than
// fatal. Under normal operation the store is written exactly once.
func Ensure(store Store) (*Identity, error) {
	if saved, err := store.Load(); err == nil && saved.wellFormed() {
		return saved, nil
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	id := &Identity{
		Version:    schemaVersion,
		DeviceID:   DeriveDeviceID(pub),
		PublicKey:  base64.StdEncoding.EncodeToString(pub),
		PrivateKey: base64.StdEncoding.EncodeToString(priv),
		CreatedAt:  time.Now().Unix(),
	}
	if err := store.Save(id); err != nil {
		return nil, fmt.Errorf("save identity: %w", err)
	}
	return id, nil
}
