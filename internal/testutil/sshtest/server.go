// Package sshtest runs an in-process SSH server for tests. Exec requests are
// served by a Handler; ShellHandler runs them with the local /bin/sh so that
// remote commands have real filesystem effects inside a test directory.
package sshtest

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"os/exec"
	"sync"
	"testing"

	"golang.org/x/crypto/ssh"
)

// Handler serves one exec request and returns the exit status.
type Handler func(cmd string, stdin io.Reader, stdout, stderr io.Writer) int

// Server is a minimal SSH server bound to 127.0.0.1.
type Server struct {
	Addr    string
	HostKey ssh.Signer

	listener net.Listener
	handler  Handler

	mu       sync.Mutex
	commands []string
	wg       sync.WaitGroup
}

// NewSigner generates a fresh ed25519 key.
func NewSigner(t testing.TB) ssh.Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("creating signer: %v", err)
	}
	return signer
}

// Start listens on a random port and serves until the test ends. Every
// public key is accepted.
func Start(t testing.TB, handler Handler) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &Server{
		Addr:     ln.Addr().String(),
		HostKey:  NewSigner(t),
		listener: ln,
		handler:  handler,
	}

	cfg := &ssh.ServerConfig{
		PublicKeyCallback: func(ssh.ConnMetadata, ssh.PublicKey) (*ssh.Permissions, error) {
			return &ssh.Permissions{}, nil
		},
	}
	cfg.AddHostKey(s.HostKey)

	s.wg.Add(1)
	go s.accept(cfg)
	t.Cleanup(s.Close)
	return s
}

// Close stops accepting connections.
func (s *Server) Close() {
	_ = s.listener.Close()
	s.wg.Wait()
}

// Commands returns every exec command received so far, in order.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func (s *Server) accept(cfg *ssh.ServerConfig) {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.serveConn(conn, cfg)
	}
}

func (s *Server) serveConn(conn net.Conn, cfg *ssh.ServerConfig) {
	_, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		_ = conn.Close()
		return
	}
	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			_ = newChan.Reject(ssh.UnknownChannelType, "only sessions are supported")
			continue
		}
		ch, requests, err := newChan.Accept()
		if err != nil {
			continue
		}
		go s.serveSession(ch, requests)
	}
}

func (s *Server) serveSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer ch.Close()
	for req := range requests {
		if req.Type != "exec" {
			_ = req.Reply(false, nil)
			continue
		}
		var payload struct{ Command string }
		if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
			_ = req.Reply(false, nil)
			continue
		}
		_ = req.Reply(true, nil)

		s.mu.Lock()
		s.commands = append(s.commands, payload.Command)
		s.mu.Unlock()

		code := s.handler(payload.Command, ch, ch, ch.Stderr())

		status := make([]byte, 4)
		binary.BigEndian.PutUint32(status, uint32(code))
		_, _ = ch.SendRequest("exit-status", false, status)
		return
	}
}

// ShellHandler runs each command with /bin/sh -c in dir.
func ShellHandler(dir string) Handler {
	return func(cmd string, stdin io.Reader, stdout, stderr io.Writer) int {
		c := exec.Command("/bin/sh", "-c", cmd)
		c.Dir = dir
		c.Stdin = stdin
		c.Stdout = stdout
		c.Stderr = stderr
		err := c.Run()
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode()
		}
		if err != nil {
			_, _ = io.WriteString(stderr, err.Error())
			return 127
		}
		return 0
	}
}

// StaticHandler replies to every command with fixed output.
func StaticHandler(stdoutText string, code int) Handler {
	return func(_ string, stdin io.Reader, stdout, _ io.Writer) int {
		_, _ = io.Copy(io.Discard, stdin)
		_, _ = io.Copy(stdout, bytes.NewBufferString(stdoutText))
		return code
	}
}

// RedirectDialer returns a dial function that connects to target whatever
// address is requested, so tests can use production host names.
func RedirectDialer(target string) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, _ string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, network, target)
	}
}
