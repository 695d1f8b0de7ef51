package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const argon2SaltBytes = 16

// Upper bounds accepted from stored or configured parameters.
const (
	MaxArgon2Memory = 1024 * 1024 // 1 GiB in KiB
	MaxArgon2Time   = 16
)

// ErrInvalidArgon2Hash is returned when an encoded argon2id hash cannot be parsed.
var ErrInvalidArgon2Hash = errors.New("argon2: invalid encoded hash")

// Argon2Parameters controls the cost factors for Argon2id password hashing.
type Argon2Parameters struct {
	// Time is the number of iterations.
	Time uint32
	// Memory is the amount of memory (in kibibytes) to use.
	Memory uint32
	// Threads is the degree of parallelism.
	Threads uint8
	// KeyLength is the desired length of the derived key in bytes.
	KeyLength uint32
}

// DefaultArgon2Params returns the default Argon2id parameters for password hashing.
func DefaultArgon2Params() Argon2Parameters {
	return Argon2Parameters{
		Time:      2,
		Memory:    64 * 1024, // 64 MiB
		Threads:   4,
		KeyLength: 32,
	}
}

// Validate ensures the parameters are suitable for Argon2id.
func (p Argon2Parameters) Validate() error {
	if p.Time == 0 {
		return fmt.Errorf("argon2: time cost must be greater than zero")
	}
	if p.Threads == 0 {
		return fmt.Errorf("argon2: parallelism must be greater than zero")
	}
	if p.Memory < 8*uint32(p.Threads) {
		return fmt.Errorf("argon2: memory cost must be at least 8 * threads")
	}
	if p.Memory > MaxArgon2Memory {
		return fmt.Errorf("argon2: memory cost must not exceed %d KiB", MaxArgon2Memory)
	}
	if p.Time > MaxArgon2Time {
		return fmt.Errorf("argon2: time cost must not exceed %d", MaxArgon2Time)
	}
	switch p.KeyLength {
	case 16, 24, 32:
	default:
		return fmt.Errorf("argon2: key length must be 16, 24, or 32 bytes (got %d)", p.KeyLength)
	}
	return nil
}

// HashPasswordArgon2id hashes the password with a fresh random salt and returns
// the PHC string $argon2id$v=19$m=<mem>,t=<time>,p=<threads>$<salt>$<key>.
func HashPasswordArgon2id(password string, params Argon2Parameters) (string, error) {
	if err := params.Validate(); err != nil {
		return "", err
	}

	salt := make([]byte, argon2SaltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("argon2: generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, params.Time, params.Memory, params.Threads, params.KeyLength)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		params.Memory,
		params.Time,
		params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// IsArgon2idHash reports whether the encoded value carries an argon2id prefix.
func IsArgon2idHash(encoded string) bool {
	return strings.HasPrefix(encoded, "$argon2id$")
}

// DecodeArgon2idHash parses a PHC string into its parameters, salt, and key.
func DecodeArgon2idHash(encoded string) (Argon2Parameters, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return Argon2Parameters{}, nil, nil, ErrInvalidArgon2Hash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return Argon2Parameters{}, nil, nil, ErrInvalidArgon2Hash
	}

	var memory, iterations, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return Argon2Parameters{}, nil, nil, ErrInvalidArgon2Hash
	}
	if threads == 0 || threads > 255 {
		return Argon2Parameters{}, nil, nil, ErrInvalidArgon2Hash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return Argon2Parameters{}, nil, nil, ErrInvalidArgon2Hash
	}

	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return Argon2Parameters{}, nil, nil, ErrInvalidArgon2Hash
	}

	params := Argon2Parameters{
		Time:      iterations,
		Memory:    memory,
		Threads:   uint8(threads),
		KeyLength: uint32(len(key)),
	}
	if err := params.Validate(); err != nil {
		return Argon2Parameters{}, nil, nil, ErrInvalidArgon2Hash
	}

	return params, salt, key, nil
}

// VerifyPasswordArgon2id recomputes the key with the encoded parameters and
// compares in constant time. Unparseable hashes never verify.
func VerifyPasswordArgon2id(encoded, password string) bool {
	params, salt, expected, err := DecodeArgon2idHash(encoded)
	if err != nil {
		return false
	}
	computed := argon2.IDKey([]byte(password), salt, params.Time, params.Memory, params.Threads, params.KeyLength)
	return subtle.ConstantTimeCompare(computed, expected) == 1
}
