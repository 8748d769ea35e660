// Package discovery runs netstat on a remote host over SSH.
package discovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

// DefaultPort is the SSH port used when neither target nor config sets one.
const DefaultPort = 22

// Target is the host a discovery call runs against.
type Target struct {
	Host     string
	Port     int      // 0 means Config.Port
	Platform Platform // empty means Config.Platform
}

// RawOutput is what the remote command printed.
type RawOutput struct {
	Command string
	Stdout  string
	Stderr  string
}

// Config is the client side SSH setup. It is copied into every call.
type Config struct {
	Port     int
	Platform Platform
	// ConnectTimeout bounds the TCP dial and SSH handshake. The command
	// itself is bounded by the caller's context.
	ConnectTimeout        time.Duration
	KnownHostsFile        string
	InsecureIgnoreHostKey bool
}

// Client executes the discovery command. It holds no connection state;
// every Run opens and closes its own session.
type Client struct {
	cfg    Config
	log    logrus.FieldLogger
	dialer net.Dialer
}

// New returns a Client using cfg for every call.
func New(cfg Config, log logrus.FieldLogger) *Client {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Client{cfg: cfg, log: log}
}

// Run connects to target, authenticates with cred, runs the platform's
// netstat command and returns its output. Failures are *Error values, or
// wrap ErrInvalidInput when the arguments are unusable.
func (c *Client) Run(ctx context.Context, target Target, cred Credential) (RawOutput, error) {
	if strings.TrimSpace(target.Host) == "" {
		return RawOutput{}, fmt.Errorf("%w: host is required", ErrInvalidInput)
	}
	if err := cred.validate(); err != nil {
		return RawOutput{}, err
	}

	platform := target.Platform
	if platform == "" {
		platform = c.cfg.Platform
	}
	if platform == "" {
		platform = DefaultPlatform
	}
	cmd, err := Command(platform)
	if err != nil {
		return RawOutput{}, err
	}

	hostKeys, err := c.cfg.hostKeyCallback()
	if err != nil {
		return RawOutput{}, err
	}

	auth, err := cred.authMethods()
	if err != nil {
		return RawOutput{}, authError(target.Host, err)
	}

	port := target.Port
	if port == 0 {
		port = c.cfg.Port
	}
	if port == 0 {
		port = DefaultPort
	}
	addr := net.JoinHostPort(target.Host, strconv.Itoa(port))

	log := c.log.WithFields(logrus.Fields{
		"host":     target.Host,
		"port":     port,
		"user":     cred.Username,
		"platform": platform,
	})

	client, err := c.connect(ctx, addr, target.Host, &ssh.ClientConfig{
		User:            cred.Username,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         c.cfg.ConnectTimeout,
	})
	if err != nil {
		log.WithError(err).Debug("ssh connect failed")
		return RawOutput{}, err
	}
	defer client.Close()

	// Closing the client unblocks session.Run when ctx ends first.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			client.Close()
		case <-done:
		}
	}()

	out, err := runCommand(ctx, client, target.Host, cmd)
	if err != nil {
		log.WithError(err).Debug("remote command failed")
		return out, err
	}

	log.WithField("bytes", len(out.Stdout)).Debug("remote command finished")
	return out, nil
}

// connect dials under ctx and performs the SSH handshake on the resulting
// connection so a cancelled context also aborts the handshake.
func (c *Client) connect(ctx context.Context, addr, host string, config *ssh.ClientConfig) (*ssh.Client, error) {
	dialCtx := ctx
	if c.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		defer cancel()
	}

	conn, err := c.dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, connectionError(host, err)
	}

	if deadline, ok := dialCtx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	// Handshake on a separate goroutine so dialCtx can interrupt it.
	type result struct {
		conn  ssh.Conn
		chans <-chan ssh.NewChannel
		reqs  <-chan *ssh.Request
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		sc, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
		ch <- result{sc, chans, reqs, err}
	}()

	var r result
	select {
	case r = <-ch:
	case <-dialCtx.Done():
		conn.Close()
		<-ch
		return nil, connectionError(host, dialCtx.Err())
	}
	if r.err != nil {
		conn.Close()
		return nil, classifyHandshake(host, r.err)
	}

	// The handshake is done; from here the caller's context governs.
	conn.SetDeadline(time.Time{})
	return ssh.NewClient(r.conn, r.chans, r.reqs), nil
}

func runCommand(ctx context.Context, client *ssh.Client, host, cmd string) (RawOutput, error) {
	out := RawOutput{Command: cmd}

	session, err := client.NewSession()
	if err != nil {
		if ctx.Err() != nil {
			return out, connectionError(host, ctx.Err())
		}
		return out, connectionError(host, fmt.Errorf("open session: %w", err))
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	err = session.Run(cmd)
	out.Stdout = stdout.String()
	out.Stderr = stderr.String()

	if err == nil {
		return out, nil
	}
	if ctx.Err() != nil {
		return out, connectionError(host, ctx.Err())
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return out, &Error{
			Kind:       KindRemoteCommand,
			Host:       host,
			ExitStatus: exitErr.ExitStatus(),
			Stderr:     strings.TrimSpace(out.Stderr),
			Err:        fmt.Errorf("%q: %s", cmd, remoteReason(exitErr.ExitStatus(), out.Stderr)),
		}
	}

	var missing *ssh.ExitMissingError
	if errors.As(err, &missing) {
		return out, &Error{
			Kind:   KindRemoteCommand,
			Host:   host,
			Stderr: strings.TrimSpace(out.Stderr),
			Err:    fmt.Errorf("%q: %w", cmd, err),
		}
	}

	return out, connectionError(host, err)
}

// remoteReason turns a failed exit into something an operator can act on.
func remoteReason(status int, stderr string) string {
	stderr = strings.TrimSpace(stderr)
	if status == 127 || strings.Contains(stderr, "not found") {
		return "netstat is not installed or not in PATH"
	}
	if stderr != "" {
		return stderr
	}
	return "exit status " + strconv.Itoa(status)
}

// classifyHandshake separates bad credentials from transport problems.
func classifyHandshake(host string, err error) *Error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "unable to authenticate"),
		strings.Contains(msg, "no supported methods remain"):
		return authError(host, err)
	default:
		return connectionError(host, err)
	}
}
