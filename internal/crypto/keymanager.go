// Package crypto holds the relay signing key: encrypted at rest, used to
// attest deliveries, and checked on the receiving side against a trusted
// relay set. It also signs outbound webhooks.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/mohtashimnawaz/cross-chain-prediction/internal/config"
)

const (
	kdfRounds     = 480_000
	kdfSaltBytes  = 16
	sealKeyBytes  = 32
	keyfileFormat = "xbet-relay-key/1"
)

// ErrNoRelayKey is returned by LoadKey when neither a raw key nor a key file
// is configured.
var ErrNoRelayKey = errors.New("crypto: no relay key configured (set relay.signing_key or relay.key_file)")

// keyfile is the sealed relay key as written by EncryptKey. Binary fields
// are hex so the file stays diffable next to config.toml.
type keyfile struct {
	Format string `json:"format"`
	Salt   string `json:"salt"`
	Nonce  string `json:"nonce"`
	Sealed string `json:"sealed"`
}

// KeySource says where the relay signing key comes from. Raw wins over File.
type KeySource struct {
	Raw      string
	File     string
	Password string
}

// KeySourceFrom maps the [relay] config section onto a KeySource.
func KeySourceFrom(r config.RelayConfig) KeySource {
	return KeySource{Raw: r.SigningKey, File: r.KeyFile, Password: r.KeyPassword}
}

// Configured reports whether any key material is named.
func (s KeySource) Configured() bool { return s.Raw != "" || s.File != "" }

// sealer derives the AES-256-GCM instance for password and salt.
func sealer(password string, salt []byte) (cipher.AEAD, error) {
	if password == "" {
		return nil, errors.New("crypto: key password is empty")
	}
	block, err := aes.NewCipher(pbkdf2.Key([]byte(password), salt, kdfRounds, sealKeyBytes, sha256.New))
	if err != nil {
		return nil, fmt.Errorf("crypto: aes: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm: %w", err)
	}
	return aead, nil
}

func parseKeyHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: relay key is not hex: %w", err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("crypto: relay key is %d bytes, want 32", len(b))
	}
	return b, nil
}

// EncryptKey seals a hex secp256k1 key under password and returns the key
// file contents.
func EncryptKey(privateKeyHex, password string) ([]byte, error) {
	key, err := parseKeyHex(privateKeyHex)
	if err != nil {
		return nil, err
	}
	salt := make([]byte, kdfSaltBytes)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: salt: %w", err)
	}
	aead, err := sealer(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}
	kf := keyfile{
		Format: keyfileFormat,
		Salt:   hex.EncodeToString(salt),
		Nonce:  hex.EncodeToString(nonce),
		Sealed: hex.EncodeToString(aead.Seal(nil, nonce, key, []byte(keyfileFormat))),
	}
	return json.MarshalIndent(kf, "", "  ")
}

// DecryptKey opens a key file produced by EncryptKey and returns the key as
// bare hex.
func DecryptKey(data []byte, password string) (string, error) {
	var kf keyfile
	if err := json.Unmarshal(data, &kf); err != nil {
		return "", fmt.Errorf("crypto: key file: %w", err)
	}
	if kf.Format != keyfileFormat {
		return "", fmt.Errorf("crypto: key file format %q not supported", kf.Format)
	}
	var salt, nonce, sealed []byte
	for _, f := range []struct {
		name string
		in   string
		out  *[]byte
	}{{"salt", kf.Salt, &salt}, {"nonce", kf.Nonce, &nonce}, {"sealed", kf.Sealed, &sealed}} {
		b, err := hex.DecodeString(f.in)
		if err != nil {
			return "", fmt.Errorf("crypto: key file %s: %w", f.name, err)
		}
		*f.out = b
	}
	aead, err := sealer(password, salt)
	if err != nil {
		return "", err
	}
	if len(nonce) != aead.NonceSize() {
		return "", fmt.Errorf("crypto: key file nonce is %d bytes", len(nonce))
	}
	key, err := aead.Open(nil, nonce, sealed, []byte(keyfileFormat))
	if err != nil {
		return "", fmt.Errorf("crypto: unseal relay key (wrong password?): %w", err)
	}
	return hex.EncodeToString(key), nil
}

// LoadKey returns the relay key named by src as bare hex.
func LoadKey(src KeySource) (string, error) {
	switch {
	case src.Raw != "":
		key, err := parseKeyHex(src.Raw)
		if err != nil {
			return "", err
		}
		return hex.EncodeToString(key), nil
	case src.File != "":
		data, err := os.ReadFile(src.File)
		if err != nil {
			return "", fmt.Errorf("crypto: read key file: %w", err)
		}
		return DecryptKey(data, src.Password)
	default:
		return "", ErrNoRelayKey
	}
}

// LoadAttestor resolves the key with LoadKey and wraps it in an Attestor.
func LoadAttestor(src KeySource) (*Attestor, error) {
	k, err := LoadKey(src)
	if err != nil {
		return nil, err
	}
	return NewAttestor(k)
}
