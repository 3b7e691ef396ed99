package remote

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/sftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/rescale/rescale-sftp/internal/errs"
)

func TestEndpointAddress(t *testing.T) {
	tests := []struct {
		ep   Endpoint
		want string
	}{
		{Endpoint{Host: "h", Port: 2222, Username: "u"}, "h:2222"},
		{Endpoint{Host: "h", Username: "u"}, "h:22"},
		{Endpoint{Host: "::1", Port: 22, Username: "u"}, "[::1]:22"},
	}

	for _, tt := range tests {
		if got := tt.ep.Address(); got != tt.want {
			t.Errorf("Address() = %q, want %q", got, tt.want)
		}
	}
}

func TestEndpointValidate(t *testing.T) {
	tests := []struct {
		name string
		ep   Endpoint
		want error
	}{
		{"ok", Endpoint{Host: "h", Port: 22, Username: "u"}, nil},
		{"no host", Endpoint{Host: " ", Username: "u"}, ErrEmptyHost},
		{"no user", Endpoint{Host: "h"}, ErrEmptyUsername},
		{"bad port", Endpoint{Host: "h", Username: "u", Port: 70000}, ErrInvalidPort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.ep.Validate(), tt.want)
		})
	}
}

func TestNewCredentials(t *testing.T) {
	c, err := NewCredentials("secret", "", "")
	require.NoError(t, err)
	assert.Equal(t, Password{Secret: "secret"}, c)

	c, err = NewCredentials("secret", "/keys/id", "pp")
	require.NoError(t, err)
	assert.Equal(t, PrivateKey{Path: "/keys/id", Passphrase: "pp"}, c, "key path must win over password")
	assert.Equal(t, "publickey", c.Method())

	_, err = NewCredentials("", "", "")
	assert.ErrorIs(t, err, ErrNoAuthMethod)
}

func writeKey(t *testing.T, passphrase string) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	var block *pem.Block
	if passphrase == "" {
		block, err = ssh.MarshalPrivateKey(priv, "test")
	} else {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(priv, "test", []byte(passphrase))
	}
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0600))
	return path
}

func TestPrivateKeyAuthMethods(t *testing.T) {
	plain := writeKey(t, "")
	encrypted := writeKey(t, "hunter2")

	_, err := PrivateKey{Path: plain}.authMethods()
	assert.NoError(t, err)

	_, err = PrivateKey{Path: encrypted, Passphrase: "hunter2"}.authMethods()
	assert.NoError(t, err)

	_, err = PrivateKey{Path: encrypted}.authMethods()
	assert.Equal(t, errs.AuthenticationFailed, errs.KindOf(err))

	_, err = PrivateKey{Path: encrypted, Passphrase: "wrong"}.authMethods()
	assert.Equal(t, errs.AuthenticationFailed, errs.KindOf(err))

	_, err = PrivateKey{Path: filepath.Join(t.TempDir(), "missing")}.authMethods()
	assert.Equal(t, errs.InvalidArgument, errs.KindOf(err))
}

func TestPathHelpers(t *testing.T) {
	cleanTests := map[string]string{
		"":             "/",
		"/":            "/",
		"home":         "/home",
		"/home/":       "/home",
		"/home/../etc": "/etc",
		`\data\x`:      "/data/x",
		"/..":          "/",
	}
	for in, want := range cleanTests {
		if got := CleanPath(in); got != want {
			t.Errorf("CleanPath(%q) = %q, want %q", in, got, want)
		}
	}

	assert.Equal(t, "/a.txt", JoinPath("/", "a.txt"))
	assert.Equal(t, "/home/u/a.txt", JoinPath("/home/u", "a.txt"))
	assert.Equal(t, "/", ParentPath("/home"))
	assert.Equal(t, "/", ParentPath("/"))
	assert.Equal(t, "/home", ParentPath("/home/u"))
}

func TestFormatPermissions(t *testing.T) {
	assert.Equal(t, "rwxr-xr-x", FormatPermissions(os.ModeDir|0755))
	assert.Equal(t, "rw-r--r--", FormatPermissions(0644))
	assert.Equal(t, "---------", FormatPermissions(0))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want errs.Kind
	}{
		{"connection lost", sftp.ErrSSHFxConnectionLost, errs.ConnectionLost},
		{"no connection", fmt.Errorf("read: %w", sftp.ErrSSHFxNoConnection), errs.ConnectionLost},
		{"not exist", os.ErrNotExist, errs.NotFound},
		{"permission", &os.PathError{Op: "open", Path: "/x", Err: os.ErrPermission}, errs.PermissionDenied},
		{"closed pipe", io.ErrClosedPipe, errs.ConnectionLost},
		{"other", errors.New("sftp: failure"), errs.Protocol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errs.KindOf(Classify("op", "/p", tt.err)))
		})
	}

	assert.NoError(t, Classify("op", "", nil))
}
