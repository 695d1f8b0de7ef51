package auth

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"

	"github.com/charlesng35/authcore/pkg/crypto"
	"github.com/charlesng35/authcore/pkg/metrics"
)

var (
	// ErrEmptyPassword is returned when hashing an empty plaintext.
	ErrEmptyPassword = errors.New("auth: password is empty")
	// ErrHashing wraps failures of the underlying hashing primitive.
	ErrHashing = errors.New("auth: password hashing failed")
)

// Supported password hashing algorithms.
const (
	AlgorithmBcrypt   = "bcrypt"
	AlgorithmArgon2id = "argon2id"
)

// PasswordHasher computes and verifies one-way password hashes.
type PasswordHasher interface {
	Hash(ctx context.Context, plaintext string) (string, error)
	Verify(ctx context.Context, plaintext, hash string) bool
}

// HasherConfig selects the algorithm and work factors for new hashes.
type HasherConfig struct {
	Algorithm     string
	BcryptCost    int
	Argon2        crypto.Argon2Parameters
	MaxConcurrent int
}

// Hasher produces hashes with the configured algorithm and verifies any
// supported encoding, dispatching on the stored prefix. Hashing work is
// bounded by a weighted semaphore.
type Hasher struct {
	algorithm  string
	bcryptCost int
	argon2     crypto.Argon2Parameters
	sem        *semaphore.Weighted
}

// NewHasher validates cfg and returns a Hasher.
func NewHasher(cfg HasherConfig) (*Hasher, error) {
	algorithm := strings.ToLower(strings.TrimSpace(cfg.Algorithm))
	if algorithm == "" {
		algorithm = AlgorithmBcrypt
	}

	h := &Hasher{algorithm: algorithm}
	switch algorithm {
	case AlgorithmBcrypt:
		h.bcryptCost = clampCost(cfg.BcryptCost)
	case AlgorithmArgon2id:
		params := cfg.Argon2
		if params == (crypto.Argon2Parameters{}) {
			params = crypto.DefaultArgon2Params()
		}
		if err := params.Validate(); err != nil {
			return nil, fmt.Errorf("auth: argon2 parameters: %w", err)
		}
		h.argon2 = params
	default:
		return nil, fmt.Errorf("auth: unsupported password algorithm %q", cfg.Algorithm)
	}

	limit := cfg.MaxConcurrent
	if limit <= 0 {
		limit = runtime.NumCPU()
	}
	h.sem = semaphore.NewWeighted(int64(limit))

	return h, nil
}

// NewBcryptHasher is a shorthand for a bcrypt Hasher with the given cost.
func NewBcryptHasher(cost int) *Hasher {
	h, _ := NewHasher(HasherConfig{Algorithm: AlgorithmBcrypt, BcryptCost: cost})
	return h
}

// NewArgon2idHasher is a shorthand for an argon2id Hasher.
func NewArgon2idHasher(params crypto.Argon2Parameters) (*Hasher, error) {
	return NewHasher(HasherConfig{Algorithm: AlgorithmArgon2id, Argon2: params})
}

// Algorithm reports the algorithm used for new hashes.
func (h *Hasher) Algorithm() string {
	return h.algorithm
}

// Hash returns a salted hash of plaintext.
func (h *Hasher) Hash(ctx context.Context, plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrEmptyPassword
	}

	if err := h.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("auth: hash: %w", err)
	}
	defer h.sem.Release(1)

	start := time.Now()
	var (
		encoded string
		err     error
	)
	switch h.algorithm {
	case AlgorithmArgon2id:
		encoded, err = crypto.HashPasswordArgon2id(plaintext, h.argon2)
	default:
		encoded, err = crypto.HashPasswordWithCost(plaintext, h.bcryptCost)
	}
	metrics.PasswordHashDuration.WithLabelValues("hash", h.algorithm).Observe(time.Since(start).Seconds())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrHashing, err)
	}
	return encoded, nil
}

// Verify reports whether plaintext matches hash. Malformed or empty hashes
// and cancelled contexts yield false.
func (h *Hasher) Verify(ctx context.Context, plaintext, hash string) bool {
	if hash == "" {
		return false
	}

	var (
		algorithm string
		verify    func(string, string) bool
	)
	switch {
	case crypto.IsBcryptHash(hash):
		algorithm, verify = AlgorithmBcrypt, crypto.VerifyPassword
	case crypto.IsArgon2idHash(hash):
		algorithm, verify = AlgorithmArgon2id, crypto.VerifyPasswordArgon2id
	default:
		return false
	}

	if err := h.sem.Acquire(ctx, 1); err != nil {
		return false
	}
	defer h.sem.Release(1)

	start := time.Now()
	ok := verify(hash, plaintext)
	metrics.PasswordHashDuration.WithLabelValues("verify", algorithm).Observe(time.Since(start).Seconds())
	return ok
}

func clampCost(cost int) int {
	switch {
	case cost == 0:
		return bcrypt.DefaultCost + 2
	case cost < bcrypt.MinCost:
		return bcrypt.MinCost
	case cost > bcrypt.MaxCost:
		return bcrypt.MaxCost
	default:
		return cost
	}
}
