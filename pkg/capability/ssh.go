package capability

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/ssh"
)

// SSHShell implements ShellSession over golang.org/x/crypto/ssh.
// One remote command runs per SSH session; the TCP connection is reused.
type SSHShell struct {
	keyPath        string
	connectTimeout time.Duration
	client         *ssh.Client
}

// SSHOption configures an SSHShell.
type SSHOption func(*SSHShell)

// WithKeyPath enables public-key auth using the private key at path.
// A leading ~ is expanded to the user's home directory.
func WithKeyPath(path string) SSHOption {
	return func(s *SSHShell) { s.keyPath = path }
}

// WithConnectTimeout overrides the default 30s dial timeout.
func WithConnectTimeout(d time.Duration) SSHOption {
	return func(s *SSHShell) { s.connectTimeout = d }
}

// NewSSHShell creates a disconnected SSH shell session.
func NewSSHShell(opts ...SSHOption) *SSHShell {
	s := &SSHShell{connectTimeout: 30 * time.Second}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect establishes the SSH connection. Connecting an already-connected
// session is an error; the orchestrator owns the session lifecycle.
func (s *SSHShell) Connect(ctx context.Context, host string, port int, user, credential string) error {
	if s.client != nil {
		return fmt.Errorf("ssh: already connected")
	}
	if port == 0 {
		port = 22
	}

	var authMethods []ssh.AuthMethod
	if s.keyPath != "" {
		key, err := loadPrivateKey(s.keyPath)
		if err != nil {
			return fmt.Errorf("ssh: load private key: %w", err)
		}
		authMethods = append(authMethods, ssh.PublicKeys(key))
	}
	if credential != "" {
		authMethods = append(authMethods, ssh.Password(credential))
	}
	if len(authMethods) == 0 {
		return fmt.Errorf("ssh: no authentication method provided")
	}

	config := &ssh.ClientConfig{
		User:            user,
		Auth:            authMethods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         s.connectTimeout,
	}

	address := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	client, err := dialWithContext(ctx, address, config)
	if err != nil {
		return fmt.Errorf("ssh: connect to %s: %w", address, err)
	}
	s.client = client
	return nil
}

// Execute runs one command on the remote host and waits for it, honoring the
// timeout. A non-zero exit status is not an error; it is reported through
// ShellResult.ExitCode so the caller can classify the step.
func (s *SSHShell) Execute(ctx context.Context, command string, timeout time.Duration) (*ShellResult, error) {
	if s.client == nil {
		return nil, fmt.Errorf("ssh: not connected")
	}

	session, err := s.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("ssh: create session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	cmdCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		cmdCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case err := <-done:
		result := &ShellResult{Stdout: stdout.String(), Stderr: stderr.String()}
		if err != nil {
			if exitErr, ok := err.(*ssh.ExitError); ok {
				result.ExitCode = exitErr.ExitStatus()
				return result, nil
			}
			return result, fmt.Errorf("ssh: run command: %w", err)
		}
		return result, nil
	case <-cmdCtx.Done():
		// Closing the session terminates the remote command.
		session.Close()
		return nil, fmt.Errorf("ssh: command timed out: %w", cmdCtx.Err())
	}
}

// Disconnect closes the SSH connection. Safe to call when not connected.
func (s *SSHShell) Disconnect() error {
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

// IsConnected reports whether the session holds a live connection.
func (s *SSHShell) IsConnected() bool {
	return s.client != nil
}

func loadPrivateKey(keyPath string) (ssh.Signer, error) {
	if len(keyPath) > 0 && keyPath[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		keyPath = filepath.Join(home, keyPath[1:])
	}
	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, err
	}
	return ssh.ParsePrivateKey(keyData)
}

func dialWithContext(ctx context.Context, address string, config *ssh.ClientConfig) (*ssh.Client, error) {
	dialer := &net.Dialer{Timeout: config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, config)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}
