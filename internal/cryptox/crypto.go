// Package cryptox hashes and verifies passwords with argon2id.
//
// Hashes are stored in the PHC string format
//
//	$argon2id$v=19$m=65536,t=3,p=2$<salt>$<key>
//
// where salt and key are unpadded standard base64. Verification reads the
// cost parameters back from the stored string, so raising the configured
// cost never breaks existing hashes.
package cryptox

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/feedauth/internal/common"
	"golang.org/x/crypto/argon2"
)

var (
	ErrMalformedHash       = errors.New("malformed password hash")
	ErrIncompatibleVersion = errors.New("incompatible argon2 version")
)

// Params holds the argon2id cost parameters. Memory is in KiB.
type Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultParams is 64 MiB, 3 passes, 2 lanes, 16-byte salt, 32-byte key.
var DefaultParams = Params{
	Memory:      64 * 1024,
	Iterations:  3,
	Parallelism: 2,
	SaltLength:  16,
	KeyLength:   32,
}

func (p Params) validate() error {
	if p.Memory < 8*uint32(p.Parallelism) || p.Iterations == 0 || p.Parallelism == 0 {
		return fmt.Errorf("invalid argon2 cost parameters: m=%d t=%d p=%d", p.Memory, p.Iterations, p.Parallelism)
	}
	if p.SaltLength < 8 || p.KeyLength < 16 {
		return fmt.Errorf("invalid argon2 sizes: salt=%d key=%d", p.SaltLength, p.KeyLength)
	}
	return nil
}

// HashPassword derives an argon2id key from password with a fresh random
// salt and returns the encoded PHC string.
func HashPassword(password []byte, p Params) (string, error) {
	if err := p.validate(); err != nil {
		return "", err
	}

	salt := common.GenerateRandByteArray(int(p.SaltLength))
	key := argon2.IDKey(password, salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength)

	b64 := base64.RawStdEncoding
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.Memory, p.Iterations, p.Parallelism,
		b64.EncodeToString(salt), b64.EncodeToString(key)), nil
}

// VerifyPassword reports whether password matches encoded. A malformed or
// foreign hash is an error; a plain mismatch is (false, nil).
func VerifyPassword(password []byte, encoded string) (bool, error) {
	p, salt, key, err := decodeHash(encoded)
	if err != nil {
		return false, err
	}

	candidate := argon2.IDKey(password, salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength)
	return subtle.ConstantTimeCompare(key, candidate) == 1, nil
}

func decodeHash(encoded string) (Params, []byte, []byte, error) {
	var p Params

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return p, nil, nil, ErrMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return p, nil, nil, ErrMalformedHash
	}
	if version != argon2.Version {
		return p, nil, nil, ErrIncompatibleVersion
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Iterations, &p.Parallelism); err != nil {
		return p, nil, nil, ErrMalformedHash
	}

	b64 := base64.RawStdEncoding
	salt, err := b64.DecodeString(parts[4])
	if err != nil {
		return p, nil, nil, ErrMalformedHash
	}
	key, err := b64.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return p, nil, nil, ErrMalformedHash
	}

	p.SaltLength = uint32(len(salt))
	p.KeyLength = uint32(len(key))
	if p.Iterations == 0 || p.Parallelism == 0 {
		return p, nil, nil, ErrMalformedHash
	}

	return p, salt, key, nil
}
