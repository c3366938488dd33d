package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// Client is a minimal SSH client for bootstrap: run a command, upload a
// file. One client serves one target.
type Client struct {
	target *Target
	client *ssh.Client
	logger zerolog.Logger

	connectTimeout time.Duration
}

// CommandResult carries a remote command's outcome. A non-zero exit code
// is a result, not a connection error.
type CommandResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// NewClient creates an unconnected client for the target.
func NewClient(target *Target, logger zerolog.Logger) *Client {
	return &Client{
		target: target,
		logger: logger.With().
			Str("component", "remote").
			Str("target", target.Name).
			Logger(),
		connectTimeout: 30 * time.Second,
	}
}

// Connect dials the target.
func (c *Client) Connect(ctx context.Context) error {
	auth, err := c.authMethods()
	if err != nil {
		return err
	}

	config := &ssh.ClientConfig{
		User: c.target.User,
		Auth: auth,
		// Bootstrap targets are fresh hosts; their keys are not known
		// yet.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         c.connectTimeout,
	}

	type dialResult struct {
		client *ssh.Client
		err    error
	}
	ch := make(chan dialResult, 1)
	go func() {
		client, err := ssh.Dial("tcp", c.target.Address(), config)
		ch <- dialResult{client: client, err: err}
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("connect to %s: %w", c.target.Address(), ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return fmt.Errorf("connect to %s: %w", c.target.Address(), r.err)
		}
		c.client = r.client
		c.logger.Debug().Str("address", c.target.Address()).Msg("connected")
		return nil
	}
}

// Close closes the connection.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func (c *Client) authMethods() ([]ssh.AuthMethod, error) {
	if c.target.KeyFile != "" {
		key, err := os.ReadFile(c.target.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read key %s: %w", c.target.KeyFile, err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("failed to parse key %s: %w", c.target.KeyFile, err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	return []ssh.AuthMethod{ssh.Password(c.target.Password)}, nil
}

// Run executes a command on the target and waits for it.
func (c *Client) Run(ctx context.Context, command string) (*CommandResult, error) {
	if c.client == nil {
		return nil, fmt.Errorf("not connected")
	}

	session, err := c.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return nil, ctx.Err()
	case err := <-done:
		result := &CommandResult{
			Stdout: stdout.String(),
			Stderr: stderr.String(),
		}
		if err != nil {
			var exitErr *ssh.ExitError
			if ok := asExitError(err, &exitErr); ok {
				result.ExitCode = exitErr.ExitStatus()
				return result, nil
			}
			return nil, fmt.Errorf("command failed: %w", err)
		}
		return result, nil
	}
}

func asExitError(err error, target **ssh.ExitError) bool {
	if e, ok := err.(*ssh.ExitError); ok {
		*target = e
		return true
	}
	return false
}

// Upload copies a local file to the target over SFTP, creating parent
// directories as needed.
func (c *Client) Upload(localPath, remotePath string, mode os.FileMode) error {
	if c.client == nil {
		return fmt.Errorf("not connected")
	}

	sftpClient, err := sftp.NewClient(c.client)
	if err != nil {
		return fmt.Errorf("failed to create sftp client: %w", err)
	}
	defer sftpClient.Close()

	local, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer local.Close()

	if err := sftpClient.MkdirAll(path.Dir(remotePath)); err != nil {
		return fmt.Errorf("failed to create remote dir %s: %w", path.Dir(remotePath), err)
	}

	remote, err := sftpClient.Create(remotePath)
	if err != nil {
		return fmt.Errorf("failed to create remote file %s: %w", remotePath, err)
	}
	defer remote.Close()

	n, err := io.Copy(remote, local)
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", remotePath, err)
	}
	if err := sftpClient.Chmod(remotePath, mode); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", remotePath, err)
	}

	c.logger.Debug().
		Str("local", localPath).
		Str("remote", remotePath).
		Int64("bytes", n).
		Msg("file uploaded")
	return nil
}
