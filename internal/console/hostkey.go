package console

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	gossh "golang.org/x/crypto/ssh"
)

// HostKey is the console's persistent SSH host key.
type HostKey struct {
	Signer      gossh.Signer
	Fingerprint string
}

// LoadHostKey reads dir/host.key. On first use an ED25519 key is generated
// and written there, with its public half in dir/host.pub.
func LoadHostKey(dir string) (*HostKey, error) {
	privPath := filepath.Join(dir, "host.key")
	privPEM, err := os.ReadFile(privPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading host key: %w", err)
		}
		return generateHostKey(dir, privPath)
	}
	return parseHostKey(privPEM)
}

func generateHostKey(dir, privPath string) (*HostKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating host key: %w", err)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating console dir: %w", err)
	}

	pkcs8, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("marshaling host key: %w", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8})
	if err := os.WriteFile(privPath, privPEM, 0600); err != nil {
		return nil, fmt.Errorf("writing host key: %w", err)
	}

	hk, err := fromPrivateKey(priv)
	if err != nil {
		return nil, err
	}
	pubLine := gossh.MarshalAuthorizedKey(hk.Signer.PublicKey())
	if err := os.WriteFile(filepath.Join(dir, "host.pub"), pubLine, 0644); err != nil {
		return nil, fmt.Errorf("writing host public key: %w", err)
	}
	return hk, nil
}

func parseHostKey(privPEM []byte) (*HostKey, error) {
	block, _ := pem.Decode(privPEM)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in host key")
	}
	raw, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing host key: %w", err)
	}
	priv, ok := raw.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("host key is not ED25519")
	}
	return fromPrivateKey(priv)
}

func fromPrivateKey(priv ed25519.PrivateKey) (*HostKey, error) {
	signer, err := gossh.NewSignerFromKey(priv)
	if err != nil {
		return nil, fmt.Errorf("creating SSH signer: %w", err)
	}
	return &HostKey{
		Signer:      signer,
		Fingerprint: gossh.FingerprintSHA256(signer.PublicKey()),
	}, nil
}

// loadAuthorizedKeys parses an OpenSSH authorized_keys file. A missing file
// yields no keys.
func loadAuthorizedKeys(path string) ([]gossh.PublicKey, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading authorized keys: %w", err)
	}

	var keys []gossh.PublicKey
	for len(data) > 0 {
		key, _, _, rest, err := gossh.ParseAuthorizedKey(data)
		if err != nil {
			break
		}
		keys = append(keys, key)
		data = rest
	}
	return keys, nil
}
