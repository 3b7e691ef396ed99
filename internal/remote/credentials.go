package remote

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/ssh"

	"github.com/rescale/rescale-sftp/internal/errs"
)

// ErrNoAuthMethod is returned when neither a password nor a private key was supplied.
var ErrNoAuthMethod = errors.New("no authentication method provided")

// Credentials is exactly one authentication method. The only implementations are
// Password and PrivateKey.
type Credentials interface {
	// Method names the authentication method ("password" or "publickey").
	Method() string

	authMethods() ([]ssh.AuthMethod, error)
}

// Password authenticates with a secret using the SSH "password" method only.
type Password struct {
	Secret string
}

// PrivateKey authenticates with a key file. Passphrase is only needed for encrypted keys.
type PrivateKey struct {
	Path       string
	Passphrase string
}

func (Password) Method() string   { return "password" }
func (PrivateKey) Method() string { return "publickey" }

// NewCredentials picks the authentication method from optional command inputs.
// A key path wins over a password when both are present.
func NewCredentials(password, keyPath, passphrase string) (Credentials, error) {
	switch {
	case keyPath != "":
		return PrivateKey{Path: keyPath, Passphrase: passphrase}, nil
	case password != "":
		return Password{Secret: password}, nil
	default:
		return nil, ErrNoAuthMethod
	}
}

func (p Password) authMethods() ([]ssh.AuthMethod, error) {
	return []ssh.AuthMethod{ssh.Password(p.Secret)}, nil
}

func (k PrivateKey) authMethods() ([]ssh.AuthMethod, error) {
	pemBytes, err := os.ReadFile(k.Path)
	if err != nil {
		return nil, errs.WithPath(errs.InvalidArgument, "connect", k.Path,
			fmt.Errorf("failed to read private key: %w", err))
	}

	signer, err := parseSigner(pemBytes, k.Passphrase)
	if err != nil {
		return nil, errs.WithPath(errs.AuthenticationFailed, "connect", k.Path, err)
	}
	return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
}

func parseSigner(pemBytes []byte, passphrase string) (ssh.Signer, error) {
	if passphrase != "" {
		signer, err := ssh.ParsePrivateKeyWithPassphrase(pemBytes, []byte(passphrase))
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt private key: %w", err)
		}
		return signer, nil
	}

	signer, err := ssh.ParsePrivateKey(pemBytes)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("private key is encrypted and no passphrase was given: %w", err)
		}
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return signer, nil
}
