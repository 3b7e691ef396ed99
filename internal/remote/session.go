package remote

import (
	"context"
	"io"
	"os"

	"github.com/pkg/sftp"
)

// Dialer opens authenticated sessions.
type Dialer interface {
	Dial(ctx context.Context, ep Endpoint, creds Credentials) (Session, error)
}

// Session is one authenticated transport carrying one or more SFTP sub-channels.
// Each channel is a stateful request/response stream: callers must not issue
// concurrent operations on the same channel.
type Session interface {
	Channels() []Channel
	// Done is closed when the transport goes away, whether by Close or by the peer.
	Done() <-chan struct{}
	// Err reports why Done was closed. It returns nil while the session is alive.
	Err() error
	Close() error
}

// Channel is the set of SFTP operations the engine uses.
type Channel interface {
	ReadDir(ctx context.Context, p string) ([]os.FileInfo, error)
	Stat(p string) (os.FileInfo, error)
	Open(p string) (File, error)
	Create(p string) (File, error)
	Mkdir(p string) error
	Remove(p string) error
	RemoveDirectory(p string) error
	Rename(oldPath, newPath string) error
}

// File is an open remote file handle. It is bound to the channel that opened it.
type File interface {
	io.Reader
	io.Writer
	io.Closer
	Stat() (os.FileInfo, error)
}

type sftpChannel struct {
	c *sftp.Client
}

// NewChannel adapts an SFTP client to Channel.
func NewChannel(c *sftp.Client) Channel {
	return sftpChannel{c: c}
}

func (s sftpChannel) ReadDir(ctx context.Context, p string) ([]os.FileInfo, error) {
	return s.c.ReadDirContext(ctx, p)
}

func (s sftpChannel) Stat(p string) (os.FileInfo, error) { return s.c.Stat(p) }

func (s sftpChannel) Open(p string) (File, error) {
	f, err := s.c.Open(p)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s sftpChannel) Create(p string) (File, error) {
	f, err := s.c.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s sftpChannel) Mkdir(p string) error                 { return s.c.Mkdir(p) }
func (s sftpChannel) Remove(p string) error                { return s.c.Remove(p) }
func (s sftpChannel) RemoveDirectory(p string) error       { return s.c.RemoveDirectory(p) }
func (s sftpChannel) Rename(oldPath, newPath string) error { return s.c.Rename(oldPath, newPath) }
