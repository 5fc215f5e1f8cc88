// Record payload encryption
//
// Payloads are JSON encoded and encrypted with age before they
// leave the client. The store only ever sees ciphertext and
// the filter bits produced by the index package.
package seal

import (
	"bytes"
	"fmt"
	"io"

	"filippo.io/age"
	"github.com/goccy/go-json"
)

type Sealer struct {
	recipients []age.Recipient
	identity   *age.X25519Identity
}

// identity is an AGE-SECRET-KEY-1... string and is required
// to open payloads. Payloads are sealed to the identity's
// own recipient plus any extra recipients (age1...).
func New(identity string, recipients ...string) (*Sealer, error) {
	id, err := age.ParseX25519Identity(identity)
	if err != nil {
		return nil, fmt.Errorf("parsing identity: %w", err)
	}
	s := &Sealer{identity: id}
	s.recipients = append(s.recipients, id.Recipient())
	for _, r := range recipients {
		rcpt, err := age.ParseX25519Recipient(r)
		if err != nil {
			return nil, fmt.Errorf("parsing recipient %q: %w", r, err)
		}
		s.recipients = append(s.recipients, rcpt)
	}
	return s, nil
}

// Returns the age1... recipient of the sealer's identity.
func (s *Sealer) Recipient() string {
	return s.identity.Recipient().String()
}

// Returns a new identity string for use with New.
func Generate() (string, error) {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		return "", fmt.Errorf("generating identity: %w", err)
	}
	return id.String(), nil
}

func (s *Sealer) Seal(fields map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, s.recipients...)
	if err != nil {
		return nil, fmt.Errorf("starting encryption: %w", err)
	}
	if err := json.NewEncoder(w).Encode(fields); err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finishing encryption: %w", err)
	}
	return buf.Bytes(), nil
}

// Numbers are returned as json.Number.
func (s *Sealer) Open(ciphertext []byte) (map[string]any, error) {
	r, err := age.Decrypt(bytes.NewReader(ciphertext), s.identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting payload: %w", err)
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading payload: %w", err)
	}
	var fields map[string]any
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}
	return fields, nil
}
