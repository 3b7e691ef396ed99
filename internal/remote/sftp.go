package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
	"golang.org/x/net/proxy"

	"github.com/rescale/rescale-sftp/internal/errs"
	"github.com/rescale/rescale-sftp/internal/logging"
)

// ErrNoHostKeyPolicy is returned when neither a known_hosts file nor insecure mode was configured.
var ErrNoHostKeyPolicy = errors.New("no known_hosts file configured and host key checking is enabled")

// ErrSessionClosed is reported by Session.Err after a local Close.
var ErrSessionClosed = errors.New("session closed")

// DialerOptions configures SFTPDialer.
type DialerOptions struct {
	// Timeout bounds TCP dial, SSH handshake and SFTP subsystem startup together.
	Timeout time.Duration

	// Channels is the number of SFTP sub-channels opened on the SSH connection.
	// Each one serializes its own requests, so N channels allow N concurrent turns.
	Channels int

	KnownHostsFile        string
	InsecureIgnoreHostKey bool

	// ProxyURL routes the TCP connection through a proxy, e.g. socks5://host:1080.
	ProxyURL string

	// KeepAlive sends keepalive@openssh.com requests at this interval; 0 disables.
	// A request left unanswered for a whole interval drops the session.
	KeepAlive time.Duration
}

// SFTPDialer dials SSH servers and opens SFTP sub-channels on them.
type SFTPDialer struct {
	opts     DialerOptions
	hostKeys ssh.HostKeyCallback
	network  proxy.ContextDialer
	logger   *logging.Logger
}

// NewSFTPDialer validates the options and prepares host key checking and proxying.
func NewSFTPDialer(opts DialerOptions, logger *logging.Logger) (*SFTPDialer, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if opts.Channels < 1 {
		opts.Channels = 1
	}

	var hostKeys ssh.HostKeyCallback
	switch {
	case opts.InsecureIgnoreHostKey:
		logger.Warn().Msg("Host key verification is disabled")
		hostKeys = ssh.InsecureIgnoreHostKey()
	case opts.KnownHostsFile != "":
		cb, err := knownhosts.New(opts.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts %s: %w", opts.KnownHostsFile, err)
		}
		hostKeys = cb
	default:
		return nil, ErrNoHostKeyPolicy
	}

	network := proxy.ContextDialer(&net.Dialer{KeepAlive: 30 * time.Second})
	if opts.ProxyURL != "" {
		u, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		d, err := proxy.FromURL(u, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("unsupported proxy URL: %w", err)
		}
		cd, ok := d.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("proxy scheme %q does not support cancellation", u.Scheme)
		}
		network = cd
	}

	return &SFTPDialer{
		opts:     opts,
		hostKeys: hostKeys,
		network:  network,
		logger:   logger.Component("dialer"),
	}, nil
}

// Dial authenticates with exactly one method and opens the configured SFTP sub-channels.
func (d *SFTPDialer) Dial(ctx context.Context, ep Endpoint, creds Credentials) (Session, error) {
	if err := ep.Validate(); err != nil {
		return nil, errs.New(errs.InvalidArgument, "connect", err)
	}
	if creds == nil {
		return nil, errs.New(errs.InvalidArgument, "connect", ErrNoAuthMethod)
	}
	auth, err := creds.authMethods()
	if err != nil {
		return nil, err
	}

	if d.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.Timeout)
		defer cancel()
	}

	addr := ep.Address()
	d.logger.Debug().Str("addr", addr).Str("method", creds.Method()).Msg("Dialing")

	conn, err := d.network.DialContext(ctx, "tcp", addr)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, contextFailure(ctxErr, err)
		}
		return nil, errs.WithPath(errs.HostUnreachable, "connect", addr, err)
	}

	// The handshake has no context of its own; closing the conn aborts it.
	stop := context.AfterFunc(ctx, func() { conn.Close() })

	cfg := &ssh.ClientConfig{
		User:            ep.Username,
		Auth:            auth,
		HostKeyCallback: d.hostKeys,
		Timeout:         d.opts.Timeout,
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		stop()
		conn.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, contextFailure(ctxErr, err)
		}
		return nil, classifyHandshake(addr, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	channels := make([]*sftp.Client, 0, d.opts.Channels)
	for i := 0; i < d.opts.Channels; i++ {
		sc, err := sftp.NewClient(client)
		if err != nil {
			stop()
			client.Close()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, contextFailure(ctxErr, err)
			}
			return nil, errs.WithPath(errs.Protocol, "connect", addr,
				fmt.Errorf("failed to start sftp subsystem: %w", err))
		}
		channels = append(channels, sc)
	}

	if !stop() {
		// The deadline fired after the last step completed but before we disarmed it.
		client.Close()
		return nil, contextFailure(ctx.Err(), nil)
	}

	d.logger.Info().
		Str("addr", addr).
		Str("user", ep.Username).
		Int("channels", len(channels)).
		Msg("SSH session established")

	return newSFTPSession(client, channels, d.opts.KeepAlive, d.logger), nil
}

func contextFailure(ctxErr, cause error) error {
	if cause == nil {
		cause = ctxErr
	}
	if errors.Is(ctxErr, context.DeadlineExceeded) {
		return errs.New(errs.ConnectionTimeout, "connect", cause)
	}
	return errs.New(errs.Cancelled, "connect", cause)
}

// classifyHandshake sorts SSH handshake failures. x/crypto/ssh reports them as plain
// strings, so this matches on message text.
func classifyHandshake(addr string, err error) error {
	var keyErr *knownhosts.KeyError
	if errors.As(err, &keyErr) {
		if len(keyErr.Want) == 0 {
			return errs.WithPath(errs.Protocol, "connect", addr,
				fmt.Errorf("host key is not in known_hosts: %w", err))
		}
		return errs.WithPath(errs.Protocol, "connect", addr,
			fmt.Errorf("host key mismatch: %w", err))
	}

	msg := strings.ToLower(err.Error())
	authIndicators := []string{
		"unable to authenticate",
		"no supported methods remain",
		"permission denied",
	}
	for _, indicator := range authIndicators {
		if strings.Contains(msg, indicator) {
			return errs.WithPath(errs.AuthenticationFailed, "connect", addr, err)
		}
	}
	if errs.IsNetworkError(err) {
		return errs.WithPath(errs.HostUnreachable, "connect", addr, err)
	}
	return errs.WithPath(errs.Protocol, "connect", addr, err)
}

type sftpSession struct {
	client   *ssh.Client
	sftp     []*sftp.Client
	channels []Channel
	logger   *logging.Logger

	done chan struct{}
	once sync.Once
	mu   sync.Mutex
	err  error
}

func newSFTPSession(client *ssh.Client, channels []*sftp.Client, keepAlive time.Duration, logger *logging.Logger) *sftpSession {
	s := &sftpSession{
		client:   client,
		sftp:     channels,
		channels: make([]Channel, len(channels)),
		logger:   logger,
		done:     make(chan struct{}),
	}
	for i, sc := range channels {
		s.channels[i] = NewChannel(sc)
	}

	go func() {
		err := client.Wait()
		if err == nil {
			err = errors.New("ssh connection closed by peer")
		}
		s.finish(err)
	}()
	for _, sc := range channels {
		go func(sc *sftp.Client) {
			err := sc.Wait()
			if err == nil {
				err = sftp.ErrSSHFxConnectionLost
			}
			s.finish(err)
		}(sc)
	}
	if keepAlive > 0 {
		go s.keepAlive(keepAlive)
	}
	return s
}

func (s *sftpSession) Channels() []Channel    { return s.channels }
func (s *sftpSession) Done() <-chan struct{} { return s.done }

func (s *sftpSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *sftpSession) finish(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
		if !errors.Is(err, ErrSessionClosed) {
			s.logger.Warn().Err(err).Msg("SSH session ended")
		}
	})
}

// Close tears down the SSH connection first so that SFTP clients waiting on a dead
// peer are released before their own Close waits for them.
func (s *sftpSession) Close() error {
	s.finish(ErrSessionClosed)
	err := s.client.Close()
	for _, sc := range s.sftp {
		_ = sc.Close()
	}
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (s *sftpSession) keepAlive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}

		reply := make(chan error, 1)
		go func() {
			_, _, err := s.client.SendRequest("keepalive@openssh.com", true, nil)
			reply <- err
		}()

		timer := time.NewTimer(interval)
		select {
		case err := <-reply:
			timer.Stop()
			if err != nil {
				s.finish(fmt.Errorf("keepalive failed: %w", err))
				s.client.Close()
				return
			}
		case <-timer.C:
			s.finish(errors.New("keepalive timed out"))
			s.client.Close()
			return
		case <-s.done:
			timer.Stop()
			return
		}
	}
}
