package sshconn

import (
	"bufio"
	"bytes"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// HostKeyMismatchError is returned when a host presents a key different from
// the one pinned for it.
type HostKeyMismatchError struct {
	Host     string
	Got      string
	Expected []string
}

func (e *HostKeyMismatchError) Error() string {
	return fmt.Sprintf("host key mismatch for %s: got %s, expected one of %v", e.Host, e.Got, e.Expected)
}

// TrustStore is a known_hosts file with trust-on-first-use semantics.
type TrustStore struct {
	path string
	mu   sync.Mutex
}

// NewTrustStore returns a store backed by path. The file is created on first
// write.
func NewTrustStore(path string) *TrustStore {
	return &TrustStore{path: path}
}

// DefaultKnownHostsPath returns ~/.ssh/known_hosts, the file the system ssh
// client and the container launcher read.
func DefaultKnownHostsPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".ssh", "known_hosts"), nil
}

// Path returns the backing file.
func (s *TrustStore) Path() string { return s.path }

// Purge removes every trust record for host, in plain or hashed form, with
// or without a bracketed port. It returns how many host patterns were removed.
func (s *TrustStore) Purge(host string, port int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", s.path, err)
	}

	candidates := []string{host, "[" + host + "]:" + strconv.Itoa(DefaultPort)}
	if port != 0 && port != DefaultPort {
		candidates = append(candidates, "["+host+"]:"+strconv.Itoa(port))
	}

	removed := 0
	var out bytes.Buffer
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		kept, n := filterLine(line, candidates)
		removed += n
		if kept != "" {
			out.WriteString(kept)
			out.WriteByte('\n')
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scanning %s: %w", s.path, err)
	}
	if removed == 0 {
		return 0, nil
	}
	if err := os.WriteFile(s.path, out.Bytes(), 0o600); err != nil {
		return 0, fmt.Errorf("writing %s: %w", s.path, err)
	}
	return removed, nil
}

// filterLine drops the host patterns of a known_hosts line that match one of
// candidates. A line with no patterns left is dropped entirely.
func filterLine(line string, candidates []string) (string, int) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return line, 0
	}

	fields := strings.Fields(trimmed)
	hostIdx := 0
	if strings.HasPrefix(fields[0], "@") {
		hostIdx = 1
	}
	if len(fields) <= hostIdx {
		return line, 0
	}

	patterns := strings.Split(fields[hostIdx], ",")
	var keep []string
	for _, p := range patterns {
		if matchesAny(p, candidates) {
			continue
		}
		keep = append(keep, p)
	}
	removed := len(patterns) - len(keep)
	if removed == 0 {
		return line, 0
	}
	if len(keep) == 0 {
		return "", removed
	}
	fields[hostIdx] = strings.Join(keep, ",")
	return strings.Join(fields, " "), removed
}

func matchesAny(pattern string, candidates []string) bool {
	for _, c := range candidates {
		if pattern == c || hashedMatch(pattern, c) {
			return true
		}
	}
	return false
}

// hashedMatch checks an OpenSSH hashed host entry of the form
// |1|base64(salt)|base64(hmac-sha1(salt, host)).
func hashedMatch(pattern, host string) bool {
	if !strings.HasPrefix(pattern, "|1|") {
		return false
	}
	parts := strings.Split(pattern[3:], "|")
	if len(parts) != 2 {
		return false
	}
	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}
	want, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}
	mac := hmac.New(sha1.New, salt)
	mac.Write([]byte(host))
	return hmac.Equal(mac.Sum(nil), want)
}

// HostKeyCallback accepts and pins the key of a host seen for the first
// time and rejects a host whose key differs from the pinned one.
func (s *TrustStore) HostKeyCallback() ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		s.mu.Lock()
		defer s.mu.Unlock()

		if err := s.ensureFile(); err != nil {
			return err
		}
		check, err := knownhosts.New(s.path)
		if err != nil {
			return fmt.Errorf("loading %s: %w", s.path, err)
		}

		err = check(hostname, tcpAddr(remote), key)
		if err == nil {
			return nil
		}

		var keyErr *knownhosts.KeyError
		if !errors.As(err, &keyErr) {
			return err
		}
		if len(keyErr.Want) == 0 {
			return s.appendLocked(hostname, key)
		}

		expected := make([]string, 0, len(keyErr.Want))
		for _, w := range keyErr.Want {
			expected = append(expected, ssh.FingerprintSHA256(w.Key))
		}
		return &HostKeyMismatchError{
			Host:     knownhosts.Normalize(hostname),
			Got:      ssh.FingerprintSHA256(key),
			Expected: expected,
		}
	}
}

func (s *TrustStore) ensureFile() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_RDONLY, 0o600)
	if err != nil {
		return err
	}
	return f.Close()
}

func (s *TrustStore) appendLocked(hostname string, key ssh.PublicKey) error {
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	line := knownhosts.Line([]string{knownhosts.Normalize(hostname)}, key)
	_, err = f.WriteString(line + "\n")
	return err
}

// knownhosts requires a TCP remote address; pipes used in tests do not
// provide one.
func tcpAddr(remote net.Addr) net.Addr {
	if _, ok := remote.(*net.TCPAddr); ok {
		return remote
	}
	return &net.TCPAddr{IP: net.IPv4zero}
}
