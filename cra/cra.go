// Package cra implements WAMP-CRA, the challenge-response authentication of WAMP v1.
//
// The client proves it knows a secret by signing the router's challenge:
//
//	key       = secret                                   (no salt in authextra)
//	key       = base64(PBKDF2-HMAC-SHA256(secret, salt)) (salt present)
//	signature = base64(HMAC-SHA256(key, challenge))
//
// The secret never leaves the process and the derived key is never stored.
package cra

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"

	cristalbase64 "github.com/cristalhq/base64"
	gjson "github.com/goccy/go-json"
)

const (
	DefaultIterations = 1000
	DefaultKeyLen     = 32

	// maxKeyLen is the PBKDF2 limit: 2^32-1 blocks of one SHA-256 output each.
	maxKeyLen = 0xFFFFFFFF * sha256.Size
)

// Keys recognised in the extra options map. Others are ignored.
const (
	ExtraSalt       = "salt"
	ExtraIterations = "iterations"
	ExtraKeyLen     = "keylen"
)

var ErrOutOfRange = errors.New("cra: derived key length out of range")

// DeriveKey stretches secret with the salt, iterations and keylen found in extra. Without
// a salt the secret is returned unchanged. Unparsable iterations or keylen fall back to
// the defaults; iterations below 1 count as 1. The returned string cannot be wiped.
func DeriveKey(secret string, extra map[string]string) (string, error) {
	salt, ok := extra[ExtraSalt]
	if !ok {
		return secret, nil
	}
	iterations := intOption(extra, ExtraIterations, DefaultIterations)
	keyLen := intOption(extra, ExtraKeyLen, DefaultKeyLen)

	secretBytes := []byte(secret)
	saltBytes := []byte(salt)
	defer clear(secretBytes)
	defer clear(saltBytes)

	dk, err := PBKDF2SHA256(secretBytes, saltBytes, iterations, keyLen)
	if err != nil {
		return "", err
	}
	defer clear(dk)
	return cristalbase64.StdEncoding.EncodeToString(dk), nil
}

// AuthSignature signs challenge with the key derived from secret. An empty secret is a
// valid secret.
func AuthSignature(challenge, secret string, extra map[string]string) (string, error) {
	key, err := DeriveKey(secret, extra)
	if err != nil {
		return "", err
	}
	keyBytes := []byte(key)
	defer clear(keyBytes)

	mac := hmac.New(sha256.New, keyBytes)
	mac.Write([]byte(challenge))
	sig := mac.Sum(nil)
	return cristalbase64.StdEncoding.EncodeToString(sig), nil
}

// PBKDF2SHA256 derives keyLen bytes from password and salt (RFC 8018 with HMAC-SHA256
// as the PRF). Every intermediate block is zeroed before returning; the caller owns
// password, salt and the result.
func PBKDF2SHA256(password, salt []byte, iterations, keyLen int) ([]byte, error) {
	if keyLen < 0 || int64(keyLen) > maxKeyLen {
		return nil, fmt.Errorf("%w: %d", ErrOutOfRange, keyLen)
	}

	prf := hmac.New(sha256.New, password)
	hashLen := prf.Size()
	blocks := (keyLen + hashLen - 1) / hashLen

	out := make([]byte, 0, blocks*hashLen)
	block := make([]byte, len(salt)+4)
	copy(block, salt)
	u := make([]byte, 0, hashLen)
	f := make([]byte, hashLen)
	defer func() {
		clear(out[:cap(out)])
		clear(block)
		clear(u[:cap(u)])
		clear(f)
	}()

	for i := 1; i <= blocks; i++ {
		binary.BigEndian.PutUint32(block[len(salt):], uint32(i))
		prf.Reset()
		prf.Write(block)
		u = prf.Sum(u[:0])
		copy(f, u)
		for j := 1; j < iterations; j++ {
			prf.Reset()
			prf.Write(u)
			u = prf.Sum(u[:0])
			for k := range f {
				f[k] ^= u[k]
			}
		}
		out = append(out, f...)
	}

	dk := make([]byte, keyLen)
	copy(dk, out)
	return dk, nil
}

// intOption reads a 32-bit integer option, tolerating surrounding spaces and a sign.
func intOption(extra map[string]string, key string, def int) int {
	s, ok := extra[key]
	if !ok {
		return def
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return def
	}
	return int(n)
}

// ExtraFromChallenge extracts the authextra object of a WAMP-CRA challenge as the
// string options map DeriveKey expects. Routers send iterations and keylen as JSON
// numbers; those keep their literal text. A challenge without authextra yields nil.
func ExtraFromChallenge(challenge string) (map[string]string, error) {
	var c struct {
		AuthExtra map[string]gjson.RawMessage `json:"authextra"`
	}
	if err := gjson.Unmarshal([]byte(challenge), &c); err != nil {
		return nil, fmt.Errorf("cra: challenge: %w", err)
	}
	if c.AuthExtra == nil {
		return nil, nil
	}
	extra := make(map[string]string, len(c.AuthExtra))
	for k, raw := range c.AuthExtra {
		var s string
		if err := gjson.Unmarshal(raw, &s); err == nil {
			extra[k] = s
			continue
		}
		extra[k] = strings.TrimSpace(string(raw))
	}
	return extra, nil
}
