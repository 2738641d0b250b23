// Package secrets decrypts age-encrypted values in gleanrelay config files.
//
// Encrypted values use the format ENC[<base64(age-ciphertext)>] and can be
// placed inline in TOML, e.g. for nats.token or security.event_secret.
package secrets

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
	"github.com/spf13/viper"
)

const (
	encPrefix = "ENC["
	encSuffix = "]"

	// DefaultKeyFilename is the age identity filename under ~/.config/gleanrelay.
	DefaultKeyFilename = "age.key"

	// EnvAgeKey holds a raw AGE-SECRET-KEY-1... string.
	EnvAgeKey = "GLEANRELAY_AGE_KEY"

	// EnvAgeKeyFile holds a path to an age identity file.
	EnvAgeKeyFile = "GLEANRELAY_AGE_KEY_FILE"
)

// IsEncrypted reports whether value is wrapped in ENC[...].
func IsEncrypted(value string) bool {
	return len(value) > len(encPrefix)+len(encSuffix) &&
		strings.HasPrefix(value, encPrefix) && strings.HasSuffix(value, encSuffix)
}

// Encrypt encrypts plaintext for the given recipients and returns an ENC[...] string.
func Encrypt(plaintext string, recipients ...age.Recipient) (string, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipients...)
	if err != nil {
		return "", fmt.Errorf("create age encryptor: %w", err)
	}
	if _, err := io.WriteString(w, plaintext); err != nil {
		return "", fmt.Errorf("write plaintext: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize encryption: %w", err)
	}
	return encPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()) + encSuffix, nil
}

// Decrypt decrypts an ENC[...] value using the provided identities.
func Decrypt(enc string, identities ...age.Identity) (string, error) {
	if !IsEncrypted(enc) {
		return "", fmt.Errorf("value is not encrypted (missing ENC[...] wrapper)")
	}
	ciphertext, err := base64.StdEncoding.DecodeString(enc[len(encPrefix) : len(enc)-len(encSuffix)])
	if err != nil {
		return "", fmt.Errorf("decode base64: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(ciphertext), identities...)
	if err != nil {
		return "", fmt.Errorf("age decrypt: %w", err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read decrypted data: %w", err)
	}
	return string(plaintext), nil
}

// GenerateKeyPair generates a new X25519 age identity.
func GenerateKeyPair() (*age.X25519Identity, error) {
	return age.GenerateX25519Identity()
}

// DefaultKeyPath returns ~/.config/gleanrelay/age.key.
func DefaultKeyPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".config", "gleanrelay", DefaultKeyFilename)
}

// LoadIdentity loads age identities from a key file.
func LoadIdentity(keyPath string) ([]age.Identity, error) {
	f, err := os.Open(keyPath)
	if err != nil {
		return nil, fmt.Errorf("open identity file: %w", err)
	}
	defer f.Close()
	identities, err := age.ParseIdentities(f)
	if err != nil {
		return nil, fmt.Errorf("parse identity file: %w", err)
	}
	return identities, nil
}

// ResolveIdentity finds an age identity. Returns (nil, nil) if none is
// configured.
//
// Priority: GLEANRELAY_AGE_KEY → GLEANRELAY_AGE_KEY_FILE → secrets.identity
// config → ~/.config/gleanrelay/age.key.
func ResolveIdentity(v *viper.Viper) ([]age.Identity, error) {
	if raw := os.Getenv(EnvAgeKey); raw != "" {
		id, err := age.ParseX25519Identity(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", EnvAgeKey, err)
		}
		return []age.Identity{id}, nil
	}
	if path := os.Getenv(EnvAgeKeyFile); path != "" {
		return LoadIdentity(path)
	}
	if path := v.GetString("secrets.identity"); path != "" {
		return LoadIdentity(expandHome(path))
	}
	path := DefaultKeyPath()
	if _, err := os.Stat(path); err != nil {
		return nil, nil
	}
	return LoadIdentity(path)
}

// DecryptConfig replaces every ENC[...] string in v with its plaintext.
// A config without encrypted values needs no identity.
func DecryptConfig(v *viper.Viper) error {
	var encrypted []string
	for _, key := range v.AllKeys() {
		if IsEncrypted(v.GetString(key)) {
			encrypted = append(encrypted, key)
		}
	}
	if len(encrypted) == 0 {
		return nil
	}

	identities, err := ResolveIdentity(v)
	if err != nil {
		return fmt.Errorf("resolve age identity: %w", err)
	}
	if identities == nil {
		return fmt.Errorf("config contains encrypted values but no age identity is configured; set %s, %s, or secrets.identity", EnvAgeKey, EnvAgeKeyFile)
	}

	for _, key := range encrypted {
		plaintext, err := Decrypt(v.GetString(key), identities...)
		if err != nil {
			return fmt.Errorf("decrypt config key %q: %w", key, err)
		}
		v.Set(key, plaintext)
	}
	return nil
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(homeDir, path[1:])
}
