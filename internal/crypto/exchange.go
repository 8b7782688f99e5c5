package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
)

const (
	// ServerKeyBits is the modulus size of the per-process server key.
	ServerKeyBits = 1024
	// VerifyTokenSize is the size of the token the server asks the client to echo.
	VerifyTokenSize = 4
)

// ServerKey is the RSA key pair a server advertises in its encryption request.
type ServerKey struct {
	Private *rsa.PrivateKey
	// PublicDER is the PKIX (SubjectPublicKeyInfo) encoding sent to clients.
	PublicDER []byte
}

// GenerateServerKey creates a fresh key pair. Servers generate one at startup.
func GenerateServerKey() (*ServerKey, error) {
	priv, err := rsa.GenerateKey(rand.Reader, ServerKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generating rsa key: %w", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshaling public key: %w", err)
	}
	return &ServerKey{Private: priv, PublicDER: der}, nil
}

// NewVerifyToken returns VerifyTokenSize random bytes.
func NewVerifyToken() ([]byte, error) {
	token := make([]byte, VerifyTokenSize)
	if _, err := rand.Read(token); err != nil {
		return nil, fmt.Errorf("generating verify token: %w", err)
	}
	return token, nil
}

// DecryptResponse recovers the shared secret and echoed verify token sent by
// a client. The caller still has to compare the token (see CodecsFromResponse).
func (k *ServerKey) DecryptResponse(encSecret, encToken []byte) (secret, token []byte, err error) {
	secret, err = rsa.DecryptPKCS1v15(rand.Reader, k.Private, encSecret)
	if err != nil {
		return nil, nil, fmt.Errorf("decrypting shared secret: %w", err)
	}
	token, err = rsa.DecryptPKCS1v15(rand.Reader, k.Private, encToken)
	if err != nil {
		return nil, nil, fmt.Errorf("decrypting verify token: %w", err)
	}
	return secret, token, nil
}

// EncryptResponse is the client half of the exchange: it picks a new shared
// secret and encrypts it, together with the server's verify token, under the
// server's public key.
func EncryptResponse(publicDER, verifyToken []byte) (secret, encSecret, encToken []byte, err error) {
	parsed, err := x509.ParsePKIXPublicKey(publicDER)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("parsing server public key: %w", err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, nil, nil, fmt.Errorf("server public key is %T, not rsa", parsed)
	}

	secret = make([]byte, SharedSecretSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, nil, nil, fmt.Errorf("generating shared secret: %w", err)
	}
	encSecret, err = rsa.EncryptPKCS1v15(rand.Reader, pub, secret)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("encrypting shared secret: %w", err)
	}
	encToken, err = rsa.EncryptPKCS1v15(rand.Reader, pub, verifyToken)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("encrypting verify token: %w", err)
	}
	return secret, encSecret, encToken, nil
}
