// Package remotetest provides an in-memory SFTP server and a Dialer for it, so the
// connection, listing and transfer layers can be tested against the real pkg/sftp
// client without a network.
package remotetest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/pkg/sftp"

	"github.com/rescale/rescale-sftp/internal/errs"
	"github.com/rescale/rescale-sftp/internal/remote"
)

// FileHook runs before every Read and Write on a file opened through a session.
// Blocking inside the hook blocks the protocol turn that issued the call.
type FileHook func(op, path string)

// Server is an in-memory filesystem shared by every session opened on it.
type Server struct {
	handlers sftp.Handlers

	mu       sync.Mutex
	hook     FileHook
	sessions []*Session
}

// NewServer creates an empty server whose root directory is "/".
func NewServer() *Server {
	return &Server{handlers: sftp.InMemHandler()}
}

// SetFileHook installs (or with nil removes) the file hook.
func (s *Server) SetFileHook(h FileHook) {
	s.mu.Lock()
	s.hook = h
	s.mu.Unlock()
}

func (s *Server) fileHook() FileHook {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hook
}

// Sessions returns every session opened so far, in order.
func (s *Server) Sessions() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Session, len(s.sessions))
	copy(out, s.sessions)
	return out
}

// Open starts a session with n sub-channels, each backed by its own request server.
func (s *Server) Open(n int) (*Session, error) {
	if n < 1 {
		n = 1
	}
	sess := &Session{done: make(chan struct{})}
	for i := 0; i < n; i++ {
		client, pipes, err := s.openChannel()
		if err != nil {
			sess.Close()
			return nil, err
		}
		sess.clients = append(sess.clients, client)
		sess.pipes = append(sess.pipes, pipes...)
		sess.channels = append(sess.channels, &hookChannel{Channel: remote.NewChannel(client), server: s})
	}
	for _, c := range sess.clients {
		go func(c *sftp.Client) {
			err := c.Wait()
			if err == nil {
				err = sftp.ErrSSHFxConnectionLost
			}
			sess.finish(err)
		}(c)
	}

	s.mu.Lock()
	s.sessions = append(s.sessions, sess)
	s.mu.Unlock()
	return sess, nil
}

func (s *Server) openChannel() (*sftp.Client, []io.Closer, error) {
	clientToServerR, clientToServerW := io.Pipe()
	serverToClientR, serverToClientW := io.Pipe()

	srv := sftp.NewRequestServer(struct {
		io.Reader
		io.WriteCloser
	}{clientToServerR, serverToClientW}, s.handlers)
	go func() {
		_ = srv.Serve()
		_ = srv.Close()
	}()

	client, err := sftp.NewClientPipe(serverToClientR, clientToServerW)
	if err != nil {
		clientToServerR.Close()
		serverToClientW.Close()
		return nil, nil, err
	}
	return client, []io.Closer{clientToServerR, serverToClientW, clientToServerW}, nil
}

// WriteFile stores data at p, replacing any existing file. The parent must exist.
func (s *Server) WriteFile(p string, data []byte) error {
	return s.with(func(ch remote.Channel) error {
		f, err := ch.Create(p)
		if err != nil {
			return err
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	})
}

// ReadFile returns the content of the file at p.
func (s *Server) ReadFile(p string) ([]byte, error) {
	var data []byte
	err := s.with(func(ch remote.Channel) error {
		f, err := ch.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		data, err = io.ReadAll(f)
		return err
	})
	return data, err
}

// Mkdir creates a directory. The parent must exist.
func (s *Server) Mkdir(p string) error {
	return s.with(func(ch remote.Channel) error { return ch.Mkdir(p) })
}

// Stat describes the file at p.
func (s *Server) Stat(p string) (os.FileInfo, error) {
	var fi os.FileInfo
	err := s.with(func(ch remote.Channel) error {
		var err error
		fi, err = ch.Stat(p)
		return err
	})
	return fi, err
}

func (s *Server) with(op func(remote.Channel) error) error {
	client, pipes, err := s.openChannel()
	if err != nil {
		return err
	}
	defer func() {
		for _, p := range pipes {
			p.Close()
		}
		client.Close()
	}()
	return op(remote.NewChannel(client))
}

// Session is an in-memory remote.Session.
type Session struct {
	channels []remote.Channel
	clients  []*sftp.Client
	pipes    []io.Closer

	done chan struct{}
	once sync.Once
	mu   sync.Mutex
	err  error
}

var _ remote.Session = (*Session)(nil)

func (s *Session) Channels() []remote.Channel { return s.channels }
func (s *Session) Done() <-chan struct{}      { return s.done }

func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Closed reports whether the session has ended.
func (s *Session) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Session) finish(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}

// Drop simulates the peer vanishing: every pending and future request fails with a
// connection-lost error.
func (s *Session) Drop() {
	s.finish(sftp.ErrSSHFxConnectionLost)
	s.closePipes()
}

func (s *Session) Close() error {
	s.finish(remote.ErrSessionClosed)
	s.closePipes()
	for _, c := range s.clients {
		_ = c.Close()
	}
	return nil
}

func (s *Session) closePipes() {
	for _, p := range s.pipes {
		_ = p.Close()
	}
}

// Dialer is a remote.Dialer backed by a Server. It accepts one username with either a
// password or a key path, and simulates network failures by host name:
//
//	"unreachable"  fails with HostUnreachable
//	"slow"         blocks until the context ends
type Dialer struct {
	Server   *Server
	Channels int
	Username string
	Password string
	KeyPath  string

	mu    sync.Mutex
	dials int
}

// NewDialer returns a dialer accepting user "u" with password "p" or key "id_test".
func NewDialer(server *Server) *Dialer {
	return &Dialer{
		Server:   server,
		Channels: 1,
		Username: "u",
		Password: "p",
		KeyPath:  "id_test",
	}
}

var _ remote.Dialer = (*Dialer)(nil)

// Dials returns the number of Dial calls that reached the authentication step.
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *Dialer) Dial(ctx context.Context, ep remote.Endpoint, creds remote.Credentials) (remote.Session, error) {
	if err := ep.Validate(); err != nil {
		return nil, errs.New(errs.InvalidArgument, "connect", err)
	}

	switch ep.Host {
	case "unreachable":
		return nil, errs.WithPath(errs.HostUnreachable, "connect", ep.Address(), errors.New("connect: network is unreachable"))
	case "slow":
		<-ctx.Done()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errs.New(errs.ConnectionTimeout, "connect", ctx.Err())
		}
		return nil, errs.New(errs.Cancelled, "connect", ctx.Err())
	}

	d.mu.Lock()
	d.dials++
	d.mu.Unlock()

	if !d.accepts(ep.Username, creds) {
		return nil, errs.WithPath(errs.AuthenticationFailed, "connect", ep.Address(),
			fmt.Errorf("ssh: unable to authenticate, attempted methods [none %s]", methodOf(creds)))
	}
	return d.Server.Open(d.Channels)
}

func (d *Dialer) accepts(user string, creds remote.Credentials) bool {
	if user != d.Username {
		return false
	}
	switch c := creds.(type) {
	case remote.Password:
		return c.Secret == d.Password
	case remote.PrivateKey:
		return c.Path == d.KeyPath
	}
	return false
}

func methodOf(creds remote.Credentials) string {
	if creds == nil {
		return "none"
	}
	return creds.Method()
}

type hookChannel struct {
	remote.Channel
	server *Server
}

func (c *hookChannel) Open(p string) (remote.File, error) {
	f, err := c.Channel.Open(p)
	if err != nil {
		return nil, err
	}
	return &hookFile{File: f, path: p, server: c.server}, nil
}

func (c *hookChannel) Create(p string) (remote.File, error) {
	f, err := c.Channel.Create(p)
	if err != nil {
		return nil, err
	}
	return &hookFile{File: f, path: p, server: c.server}, nil
}

type hookFile struct {
	remote.File
	path   string
	server *Server
}

func (f *hookFile) Read(b []byte) (int, error) {
	if h := f.server.fileHook(); h != nil {
		h("read", f.path)
	}
	return f.File.Read(b)
}

func (f *hookFile) Write(b []byte) (int, error) {
	if h := f.server.fileHook(); h != nil {
		h("write", f.path)
	}
	return f.File.Write(b)
}
