// Package remote is the secure channel factory: it authenticates against an SSH server and
// opens SFTP sub-channels on the resulting connection.
//
// Everything above this package talks to the remote host only through the Session and
// Channel interfaces, so tests can substitute an in-memory server (see remotetest).
package remote

import (
	"errors"
	"net"
	"strconv"
	"strings"
)

// DefaultPort is the standard SSH port.
const DefaultPort = 22

var (
	ErrEmptyHost     = errors.New("host is required")
	ErrEmptyUsername = errors.New("username is required")
	ErrInvalidPort   = errors.New("port must be between 1 and 65535")
)

// Endpoint identifies a remote account.
type Endpoint struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
}

// Address returns host:port, defaulting the port to 22.
func (e Endpoint) Address() string {
	port := e.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(e.Host, strconv.Itoa(port))
}

// String renders the endpoint as user@host:port.
func (e Endpoint) String() string {
	return e.Username + "@" + e.Address()
}

// Validate checks the endpoint fields. A zero port means DefaultPort.
func (e Endpoint) Validate() error {
	if strings.TrimSpace(e.Host) == "" {
		return ErrEmptyHost
	}
	if strings.TrimSpace(e.Username) == "" {
		return ErrEmptyUsername
	}
	if e.Port < 0 || e.Port > 65535 {
		return ErrInvalidPort
	}
	return nil
}
