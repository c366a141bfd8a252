// Package sshconn builds SSH clients for remote hosts whose network identity
// may change between runs. Host keys are trusted on first use and pinned in a
// known_hosts file shared by every connection of a run.
package sshconn

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
)

// DefaultPort is used when a Connection leaves Port unset.
const DefaultPort = 22

// Connection describes how to reach a remote shell. It is an immutable value:
// a replaced server yields a new Connection rather than a mutated one.
type Connection struct {
	Host   string
	Port   int
	User   string
	Signer ssh.Signer
}

// Address returns host:port.
func (c Connection) Address() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// Target returns user@host, the form used by DOCKER_HOST=ssh:// URLs.
func (c Connection) Target() string {
	if c.Port != 0 && c.Port != DefaultPort {
		return fmt.Sprintf("%s@%s:%d", c.User, c.Host, c.Port)
	}
	return fmt.Sprintf("%s@%s", c.User, c.Host)
}

func (c Connection) String() string {
	return fmt.Sprintf("%s@%s", c.User, c.Address())
}

// LoadSigner reads an unencrypted private key from disk.
func LoadSigner(path string) (ssh.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("parsing private key %s: %w", path, err)
	}
	return signer, nil
}

// DialFunc opens the transport connection. It matches net.Dialer.DialContext.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Dialer opens authenticated SSH clients.
type Dialer struct {
	Trust *TrustStore
	// Dial defaults to a net.Dialer.
	Dial DialFunc
	// HandshakeTimeout bounds connect plus handshake. Zero means 15s.
	HandshakeTimeout time.Duration
}

// Client is an authenticated SSH client together with the host key the
// server presented.
type Client struct {
	*ssh.Client
	HostKey ssh.PublicKey
}

// Connect dials c and completes the SSH handshake and authentication.
func (d *Dialer) Connect(ctx context.Context, c Connection) (*Client, error) {
	if c.Signer == nil {
		return nil, fmt.Errorf("connection %s has no private key", c)
	}
	timeout := d.HandshakeTimeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dial := d.Dial
	if dial == nil {
		dial = (&net.Dialer{}).DialContext
	}

	addr := c.Address()
	conn, err := dial(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	var seen ssh.PublicKey
	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if d.Trust != nil {
		hostKeyCallback = d.Trust.HostKeyCallback()
	}
	cfg := &ssh.ClientConfig{
		User: c.User,
		Auth: []ssh.AuthMethod{ssh.PublicKeys(c.Signer)},
		HostKeyCallback: func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			seen = key
			return hostKeyCallback(hostname, remote, key)
		},
		Timeout: timeout,
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	stop()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Time{})

	return &Client{Client: ssh.NewClient(sshConn, chans, reqs), HostKey: seen}, nil
}
