// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"filippo.io/age"
	"filippo.io/age/armor"
)

const redacted = "[redacted]"

// Credential is an opaque bearer token. It never appears in formatted
// output or logs; use Reveal at the single point where the token is put
// on the wire.
type Credential struct {
	token string
}

// NewCredential wraps a raw token. Surrounding whitespace is trimmed,
// since token files commonly end with a newline.
func NewCredential(token string) Credential {
	return Credential{token: strings.TrimSpace(token)}
}

// Reveal returns the raw token.
func (c Credential) Reveal() string { return c.token }

// IsZero reports whether the credential is empty.
func (c Credential) IsZero() bool { return c.token == "" }

// String implements fmt.Stringer without exposing the token.
func (c Credential) String() string { return redacted }

// GoString implements fmt.GoStringer so %#v does not expose the token.
func (c Credential) GoString() string { return redacted }

// LogValue implements slog.LogValuer.
func (c Credential) LogValue() slog.Value { return slog.StringValue(redacted) }

// MarshalText refuses to serialize the token. Credentials are never
// written to config dumps, JSON logs, or event payloads by accident.
func (c Credential) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}

// ageBinaryHeader is the first line of an age file in binary format.
const ageBinaryHeader = "age-encryption.org/v1"

// ReadCredentialFile reads a bearer token from path. If the file is
// age-encrypted (binary or armored), identityPath must name an age
// identity file that can decrypt it. A plaintext file is read as-is and
// identityPath is ignored.
func ReadCredentialFile(path, identityPath string) (Credential, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Credential{}, fmt.Errorf("reading credential file: %w", err)
	}
	if !isSealed(data) {
		credential := NewCredential(string(data))
		if credential.IsZero() {
			return Credential{}, fmt.Errorf("credential file %s is empty", path)
		}
		return credential, nil
	}
	if identityPath == "" {
		return Credential{}, fmt.Errorf("credential file %s is age-encrypted but no identity file is configured", path)
	}
	identities, err := readIdentities(identityPath)
	if err != nil {
		return Credential{}, err
	}
	plaintext, err := Unseal(data, identities...)
	if err != nil {
		return Credential{}, fmt.Errorf("decrypting %s: %w", path, err)
	}
	credential := NewCredential(string(plaintext))
	if credential.IsZero() {
		return Credential{}, fmt.Errorf("credential file %s decrypts to an empty token", path)
	}
	return credential, nil
}

// Seal encrypts a token to one or more age x25519 recipients and
// returns an ASCII-armored file body suitable for a token file.
func Seal(token string, recipientKeys ...string) ([]byte, error) {
	if len(recipientKeys) == 0 {
		return nil, fmt.Errorf("at least one recipient is required")
	}
	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(key)
		if err != nil {
			return nil, fmt.Errorf("parsing recipient key %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}

	var buffer bytes.Buffer
	armorWriter := armor.NewWriter(&buffer)
	writer, err := age.Encrypt(armorWriter, recipients...)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := io.WriteString(writer, token); err != nil {
		return nil, fmt.Errorf("writing token to age encryptor: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalizing age encryption: %w", err)
	}
	if err := armorWriter.Close(); err != nil {
		return nil, fmt.Errorf("finalizing armor: %w", err)
	}
	return buffer.Bytes(), nil
}

// Unseal decrypts an age file body (binary or armored).
func Unseal(data []byte, identities ...age.Identity) ([]byte, error) {
	var source io.Reader = bytes.NewReader(data)
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte(armor.Header)) {
		source = armor.NewReader(bytes.NewReader(bytes.TrimSpace(data)))
	}
	reader, err := age.Decrypt(source, identities...)
	if err != nil {
		return nil, err
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted plaintext: %w", err)
	}
	return plaintext, nil
}

func isSealed(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return bytes.HasPrefix(trimmed, []byte(ageBinaryHeader)) ||
		bytes.HasPrefix(trimmed, []byte(armor.Header))
}

func readIdentities(path string) ([]age.Identity, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening age identity file: %w", err)
	}
	defer file.Close()
	identities, err := age.ParseIdentities(bufio.NewReader(file))
	if err != nil {
		return nil, fmt.Errorf("parsing age identity file %s: %w", path, err)
	}
	return identities, nil
}
