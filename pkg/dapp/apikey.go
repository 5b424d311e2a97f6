package dapp

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/sha3"
)

// ErrInvalidAPIKey is returned when a presented key fails signature
// verification.
var ErrInvalidAPIKey = errors.New("invalid api key")

// KeyIssuer mints and verifies dapp instance API keys as HS256-signed
// tokens. Only the sha3-256 digest of a key is ever persisted.
type KeyIssuer struct {
	secret []byte
}

// NewKeyIssuer creates an issuer from the configured signing secret.
func NewKeyIssuer(secret string) (*KeyIssuer, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("api key secret must be at least 16 bytes")
	}
	return &KeyIssuer{secret: []byte(secret)}, nil
}

type keyClaims struct {
	jwt.RegisteredClaims
	DAppID  string `json:"dapp_id"`
	ChainID uint64 `json:"chain_id"`
}

// Issue mints an API key for an instance. Keys carry no expiry; revocation
// happens by suspending the dapp.
func (k *KeyIssuer) Issue(instanceID, dappID string, chainID uint64) (string, error) {
	claims := keyClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  instanceID,
			IssuedAt: jwt.NewNumericDate(time.Now().UTC()),
		},
		DAppID:  dappID,
		ChainID: chainID,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(k.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign api key: %w", err)
	}
	return token, nil
}

// Verify checks a presented key's signature and returns the instance id it
// was issued for.
func (k *KeyIssuer) Verify(apiKey string) (string, error) {
	var claims keyClaims
	_, err := jwt.ParseWithClaims(apiKey, &claims, func(t *jwt.Token) (any, error) {
		return k.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidAPIKey, err)
	}
	if claims.Subject == "" {
		return "", ErrInvalidAPIKey
	}
	return claims.Subject, nil
}

// Digest returns the hex sha3-256 digest stored in place of the key.
func Digest(apiKey string) string {
	sum := sha3.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}
