package credential

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fernet/fernet-go"
)

var ErrInvalidSealedToken = errors.New("credential: invalid sealed token")

// Sealer encrypts the token before it reaches the KV backend.
type Sealer interface {
	Seal(plain string) (string, error)
	Open(sealed string) (string, error)
}

// FernetSealer seals tokens with a single fernet key.
type FernetSealer struct {
	key *fernet.Key
}

func NewFernetSealer(encodedKey string) (*FernetSealer, error) {
	key, err := fernet.DecodeKey(strings.TrimSpace(encodedKey))
	if err != nil {
		return nil, fmt.Errorf("decode fernet key: %w", err)
	}
	return &FernetSealer{key: key}, nil
}

// GenerateFernetKey returns a fresh encoded key for configuration.
func GenerateFernetKey() string {
	var k fernet.Key
	k.Generate()
	return k.Encode()
}

func (f *FernetSealer) Seal(plain string) (string, error) {
	tok, err := fernet.EncryptAndSign([]byte(plain), f.key)
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	return string(tok), nil
}

func (f *FernetSealer) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", ErrInvalidSealedToken
	}
	msg := fernet.VerifyAndDecrypt([]byte(sealed), 0, []*fernet.Key{f.key})
	if msg == nil {
		return "", ErrInvalidSealedToken
	}
	return string(msg), nil
}
