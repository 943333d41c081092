package security

import (
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 1
	argonKeyLen  = 32
	saltLen      = 16

	legacyLen = sha1.Size * 2
)

// ErrUnknownScheme is returned for stored hashes in neither supported format.
var ErrUnknownScheme = errors.New("unknown password hash scheme")

// HashPassword hashes the provided password using Argon2id. An empty password
// yields an empty hash, meaning the paste is public.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", nil
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return encodeHash(salt, hash), nil
}

// VerifyPassword checks password against a stored hash. Both Argon2id hashes
// and unsalted 40-hex SHA-1 digests written by older deployments are accepted.
func VerifyPassword(encoded, password string) (bool, error) {
	switch {
	case encoded == "":
		return password == "", nil
	case IsLegacyHash(encoded):
		sum := sha1.Sum([]byte(password))
		want, _ := hex.DecodeString(strings.ToLower(encoded))
		return subtle.ConstantTimeCompare(sum[:], want) == 1, nil
	case strings.HasPrefix(encoded, "$argon2id$"):
	default:
		return false, ErrUnknownScheme
	}
	params, salt, expected, err := decodeHash(encoded)
	if err != nil {
		return false, err
	}
	hash := argon2.IDKey([]byte(password), salt, params.time, params.memory, params.threads, uint32(len(expected)))
	return subtle.ConstantTimeCompare(hash, expected) == 1, nil
}

// IsLegacyHash reports whether encoded is a bare hex SHA-1 digest.
func IsLegacyHash(encoded string) bool {
	if len(encoded) != legacyLen {
		return false
	}
	_, err := hex.DecodeString(encoded)
	return err == nil
}

// Equal compares two secrets in constant time.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

type argonParams struct {
	time    uint32
	memory  uint32
	threads uint8
}

func encodeHash(salt, hash []byte) string {
	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Hash := base64.RawStdEncoding.EncodeToString(hash)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s", argon2.Version, argonMemory, argonTime, argonThreads, b64Salt, b64Hash)
}

func decodeHash(encoded string) (argonParams, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return argonParams{}, nil, nil, errors.New("invalid hash format")
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return argonParams{}, nil, nil, fmt.Errorf("unsupported argon2 version %q", parts[2])
	}
	var mem, iter, threads int
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &iter, &threads); err != nil {
		return argonParams{}, nil, nil, fmt.Errorf("parse params: %w", err)
	}
	if mem <= 0 || iter <= 0 || threads <= 0 || threads > 255 {
		return argonParams{}, nil, nil, errors.New("invalid argon params")
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return argonParams{}, nil, nil, fmt.Errorf("decode salt: %w", err)
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return argonParams{}, nil, nil, fmt.Errorf("decode hash: %w", err)
	}
	return argonParams{time: uint32(iter), memory: uint32(mem), threads: uint8(threads)}, salt, hash, nil
}
