package report

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/packet"

	"quarantine/internal/services"
)

// Signer produces armored detached OpenPGP signatures over report JSON.
type Signer struct {
	entity *openpgp.Entity
}

// LoadSigner reads an armored private key. Encrypted keys are unlocked with
// passphrase.
func LoadSigner(path string, passphrase []byte) (*Signer, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "report", "load signing key",
			fmt.Sprintf("Unable to read signing key %s", path), err)
	}
	defer file.Close()

	entities, err := openpgp.ReadArmoredKeyRing(file)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "report", "load signing key",
			fmt.Sprintf("Signing key %s is not an armored OpenPGP key", path), err)
	}
	for _, entity := range entities {
		if entity.PrivateKey == nil {
			continue
		}
		if err := unlock(entity, passphrase); err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "report", "load signing key",
				"Unable to decrypt signing key; check report.signing_passphrase_env", err)
		}
		return &Signer{entity: entity}, nil
	}
	return nil, services.Wrap(services.ErrConfiguration, "report", "load signing key",
		fmt.Sprintf("Signing key %s holds no private key", path), nil)
}

func unlock(entity *openpgp.Entity, passphrase []byte) error {
	if entity.PrivateKey.Encrypted {
		if len(passphrase) == 0 {
			return errors.New("key is encrypted and no passphrase was provided")
		}
		if err := entity.PrivateKey.Decrypt(passphrase); err != nil {
			return err
		}
	}
	for _, sub := range entity.Subkeys {
		if sub.PrivateKey != nil && sub.PrivateKey.Encrypted {
			if err := sub.PrivateKey.Decrypt(passphrase); err != nil {
				return err
			}
		}
	}
	return nil
}

// Fingerprint returns the upper-case hex fingerprint of the signing key.
func (s *Signer) Fingerprint() string {
	return fmt.Sprintf("%X", s.entity.PrimaryKey.Fingerprint)
}

// Sign returns an armored detached signature over data, dated at. Dates
// before the key creation time are clamped to it so the signature verifies.
func (s *Signer) Sign(data []byte, at time.Time) ([]byte, error) {
	sigTime := at.UTC()
	if created := s.entity.PrimaryKey.CreationTime; sigTime.Before(created) {
		sigTime = created.UTC()
	}
	config := &packet.Config{Time: func() time.Time { return sigTime }}

	var out bytes.Buffer
	if err := openpgp.ArmoredDetachSign(&out, s.entity, bytes.NewReader(data), config); err != nil {
		return nil, fmt.Errorf("sign report: %w", err)
	}
	if !bytes.HasSuffix(out.Bytes(), []byte("\n")) {
		out.WriteByte('\n')
	}
	return out.Bytes(), nil
}

// Verify checks an armored detached signature against the armored public
// keyring at keyringPath and returns the signer fingerprint.
func Verify(keyringPath string, data, signature []byte) (string, error) {
	if strings.TrimSpace(keyringPath) == "" {
		return "", services.Wrap(services.ErrConfiguration, "report", "verify",
			"report.verify_keyring is not configured", nil)
	}
	file, err := os.Open(keyringPath)
	if err != nil {
		return "", services.Wrap(services.ErrConfiguration, "report", "verify",
			fmt.Sprintf("Unable to read keyring %s", keyringPath), err)
	}
	defer file.Close()

	keyring, err := openpgp.ReadArmoredKeyRing(file)
	if err != nil {
		return "", services.Wrap(services.ErrConfiguration, "report", "verify",
			fmt.Sprintf("Keyring %s is not an armored OpenPGP keyring", keyringPath), err)
	}
	signer, err := openpgp.CheckArmoredDetachedSignature(keyring, bytes.NewReader(data), bytes.NewReader(signature), nil)
	if err != nil {
		return "", services.Wrap(services.ErrRejected, "report", "verify",
			"Report signature does not verify", err)
	}
	return fmt.Sprintf("%X", signer.PrimaryKey.Fingerprint), nil
}
