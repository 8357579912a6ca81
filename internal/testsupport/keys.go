package testsupport

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
)

// WriteKeyPair generates an unprotected OpenPGP signing key created at the
// given time and writes the armored private key and public keyring into dir.
func WriteKeyPair(t testing.TB, dir string, created time.Time) (privatePath, publicPath string) {
	t.Helper()
	entity, err := openpgp.NewEntity("Quarantine Test", "", "reports@example.com",
		&packet.Config{Time: func() time.Time { return created }})
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	privatePath = filepath.Join(dir, "signing.asc")
	publicPath = filepath.Join(dir, "keyring.asc")
	writeArmored(t, privatePath, openpgp.PrivateKeyType, func(w *bytes.Buffer) error {
		return entity.SerializePrivateWithoutSigning(w, nil)
	})
	writeArmored(t, publicPath, openpgp.PublicKeyType, func(w *bytes.Buffer) error {
		return entity.Serialize(w)
	})
	return privatePath, publicPath
}

func writeArmored(t testing.TB, path, blockType string, write func(w *bytes.Buffer) error) {
	t.Helper()
	var raw bytes.Buffer
	if err := write(&raw); err != nil {
		t.Fatalf("serialize %s: %v", blockType, err)
	}
	var out bytes.Buffer
	w, err := armor.Encode(&out, blockType, nil)
	if err != nil {
		t.Fatalf("armor %s: %v", blockType, err)
	}
	if _, err := w.Write(raw.Bytes()); err != nil {
		t.Fatalf("armor %s: %v", blockType, err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("armor %s: %v", blockType, err)
	}
	if err := os.WriteFile(path, out.Bytes(), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
