package cli

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rescale/rescale-sftp/internal/config"
	"github.com/rescale/rescale-sftp/internal/core"
)

var (
	ErrMissingHost = errors.New("--host is required")
	ErrMissingUser = errors.New("--user is required (or pass --host user@host)")
)

// target is a remote account written as [user@]host[:port].
type target struct {
	User string
	Host string
	Port int
}

// parseTarget splits [user@]host[:port]. IPv6 hosts take brackets when a port follows.
func parseTarget(s string) (target, error) {
	var t target
	rest := strings.TrimSpace(s)
	if i := strings.LastIndex(rest, "@"); i >= 0 {
		t.User = rest[:i]
		rest = rest[i+1:]
	}

	if h, p, err := net.SplitHostPort(rest); err == nil {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 || n > 65535 {
			return target{}, fmt.Errorf("invalid port %q", p)
		}
		t.Host = h
		t.Port = n
	} else {
		t.Host = strings.TrimSuffix(strings.TrimPrefix(rest, "["), "]")
	}

	if t.Host == "" {
		return target{}, ErrMissingHost
	}
	return t, nil
}

// connectRequest builds the connect inputs from the connection flags. Secrets come from the
// environment, or from a prompt when missing or when --ask-pass is set.
func connectRequest(in io.Reader, out io.Writer) (core.ConnectRequest, error) {
	if host == "" {
		return core.ConnectRequest{}, ErrMissingHost
	}
	t, err := parseTarget(host)
	if err != nil {
		return core.ConnectRequest{}, err
	}

	req := core.ConnectRequest{Host: t.Host, Port: t.Port, Username: t.User}
	if port != 0 {
		req.Port = port
	}
	if user != "" {
		req.Username = user
	}
	if req.Username == "" {
		return core.ConnectRequest{}, ErrMissingUser
	}

	if identity != "" {
		req.PrivateKeyPath = config.ExpandHome(identity)
		req.Passphrase = os.Getenv(passphraseEnv)
		if askPass {
			req.Passphrase, err = promptSecret(in, out, "Passphrase for "+identity)
		}
		return req, err
	}

	req.Password = os.Getenv(passwordEnv)
	if askPass || req.Password == "" {
		req.Password, err = promptSecret(in, out, fmt.Sprintf("%s@%s's password", req.Username, req.Host))
	}
	return req, err
}

// session is one engine with one open connection, used by the one-shot commands.
type session struct {
	engine *core.Engine
	connID string
}

// openSession loads the config, creates the engine and connects.
func openSession(cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	req, err := connectRequest(cmd.InOrStdin(), cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}

	engine, err := engineFactory(cfg, GetLogger())
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	GetLogger().Debug().Str("endpoint", req.Endpoint().String()).Msg("Connecting")
	id, err := engine.Connect(GetContext(), req)
	if err != nil {
		engine.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", req.Endpoint(), err)
	}
	return &session{engine: engine, connID: id}, nil
}

// Close disconnects and shuts the engine down.
func (s *session) Close() {
	if err := s.engine.Disconnect(s.connID); err != nil {
		GetLogger().Debug().Err(err).Msg("Disconnect failed")
	}
	s.engine.Close()
}
