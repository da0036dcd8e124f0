package target

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/fashionrec/fashionrec-deploy/internal/config"
	"github.com/fashionrec/fashionrec-deploy/internal/logger"
)

// SSHTarget installs releases on a remote host over SSH.
// Slot mutations are plain shell commands; the archive travels over SFTP.
type SSHTarget struct {
	// cfg holds the host coordinates and service parameters.
	cfg *config.Config
	// client is the established SSH connection.
	client *ssh.Client
}

var (
	errEmptyChecksumOutput = errors.New("empty checksum output")
	errCommandFailed       = errors.New("remote command failed")
)

// DialSSH connects to the configured host using key-based authentication.
// Note: host keys are not verified; deployments target hosts the operator
// provisioned over the same channel. Pin known_hosts in hardened setups.
func DialSSH(ctx context.Context, cfg *config.Config) (*SSHTarget, error) {
	keyMaterial, err := os.ReadFile(filepath.Clean(cfg.KeyFile))
	if err != nil {
		return nil, fmt.Errorf("read ssh key: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(keyMaterial)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key: %w", err)
	}

	clientConfig := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // See note above.
		Timeout:         cfg.Timeout,
	}

	address := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	dialer := net.Dialer{Timeout: cfg.Timeout}

	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}

	sshConn, channels, requests, err := ssh.NewClientConn(conn, address, clientConfig)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", address, err)
	}

	logger.InfoKV(ctx, "Connected to deployment target", "address", address, "user", cfg.User)

	return &SSHTarget{
		cfg:    cfg,
		client: ssh.NewClient(sshConn, channels, requests),
	}, nil
}

// PutArchive uploads the archive into the slot root over SFTP.
func (t *SSHTarget) PutArchive(ctx context.Context, localPath string) (string, error) {
	remotePath := path.Join(t.cfg.RemoteRoot, filepath.Base(localPath))

	if _, err := t.run(ctx, fmt.Sprintf("mkdir -p %s", shellQuote(t.cfg.RemoteRoot)), ""); err != nil {
		return "", err
	}

	sftpClient, err := sftp.NewClient(t.client)
	if err != nil {
		return "", fmt.Errorf("open sftp session: %w", err)
	}

	defer func() {
		_ = sftpClient.Close()
	}()

	source, err := os.Open(filepath.Clean(localPath))
	if err != nil {
		return "", fmt.Errorf("open archive: %w", err)
	}

	defer func() {
		_ = source.Close()
	}()

	destination, err := sftpClient.Create(remotePath)
	if err != nil {
		return "", fmt.Errorf("create remote archive: %w", err)
	}

	if _, err = io.Copy(destination, source); err != nil {
		_ = destination.Close()
		return "", fmt.Errorf("upload archive: %w", err)
	}

	if err = destination.Close(); err != nil {
		return "", fmt.Errorf("finalize upload: %w", err)
	}

	return remotePath, nil
}

// ArchiveChecksum computes the SHA512 of the uploaded archive on the remote side.
func (t *SSHTarget) ArchiveChecksum(ctx context.Context, remotePath string) ([]byte, error) {
	output, err := t.run(ctx, fmt.Sprintf("sha512sum -b %s", shellQuote(remotePath)), "")
	if err != nil {
		return nil, err
	}

	fields := strings.Fields(output)
	if len(fields) == 0 {
		return nil, errEmptyChecksumOutput
	}

	checksum, err := hex.DecodeString(fields[0])
	if err != nil {
		return nil, fmt.Errorf("parse remote checksum: %w", err)
	}

	return checksum, nil
}

// HasSlot reports whether the slot directory exists on the remote host.
func (t *SSHTarget) HasSlot(ctx context.Context, slot Slot) (bool, error) {
	output, err := t.run(ctx, fmt.Sprintf(
		"if [ -d %s ]; then echo present; else echo absent; fi", shellQuote(t.slotPath(slot))), "")
	if err != nil {
		return false, err
	}

	return strings.TrimSpace(output) == "present", nil
}

// RotateBackup discards a prior backup and renames active to backup.
func (t *SSHTarget) RotateBackup(ctx context.Context) error {
	activePath := shellQuote(t.slotPath(SlotActive))
	backupPath := shellQuote(t.slotPath(SlotBackup))

	_, err := t.run(ctx, fmt.Sprintf(
		"rm -rf %s && if [ -d %s ]; then mv %s %s; fi",
		backupPath, activePath, activePath, backupPath), "")

	return err
}

// ExtractArchive unpacks the uploaded archive into a fresh active slot.
func (t *SSHTarget) ExtractArchive(ctx context.Context, remotePath string) error {
	activePath := shellQuote(t.slotPath(SlotActive))

	_, err := t.run(ctx, fmt.Sprintf(
		"rm -rf %s && mkdir -p %s && tar -xzf %s -C %s",
		activePath, activePath, shellQuote(remotePath), activePath), "")

	return err
}

// WriteRuntimeSecret writes the credential file through stdin so the value
// never appears in a command line or process listing.
func (t *SSHTarget) WriteRuntimeSecret(ctx context.Context, key, value string) error {
	secretPath := shellQuote(path.Join(t.slotPath(SlotActive), SecretFilename))

	_, err := t.run(ctx,
		fmt.Sprintf("umask 077 && cat > %s", secretPath),
		fmt.Sprintf("%s=%s\n", key, value))

	return err
}

// EnsureRuntime installs the Python runtime the pipeline service needs.
func (t *SSHTarget) EnsureRuntime(ctx context.Context) error {
	logger.Info(ctx, "Installing service runtime")

	_, err := t.run(ctx,
		"sudo apt-get update -y && sudo apt-get install -y python3 python3-venv python3-pip", "")

	return err
}

// ConfigureProxy writes an nginx site forwarding the domain to the service port.
func (t *SSHTarget) ConfigureProxy(ctx context.Context, domain string) error {
	logger.InfoKV(ctx, "Configuring reverse proxy", "domain", domain)

	site := fmt.Sprintf(`server {
    listen 80;
    server_name %s;

    location / {
        proxy_pass http://127.0.0.1:%d;
        proxy_set_header Host $host;
        proxy_set_header X-Real-IP $remote_addr;
    }
}
`, domain, t.cfg.ServicePort)

	sitePath := "/etc/nginx/sites-available/" + t.cfg.ServiceName

	command := fmt.Sprintf(
		"sudo tee %s > /dev/null && sudo ln -sf %s %s && sudo nginx -t && sudo systemctl reload nginx",
		shellQuote(sitePath), shellQuote(sitePath),
		shellQuote("/etc/nginx/sites-enabled/"+t.cfg.ServiceName))

	_, err := t.run(ctx, command, site)

	return err
}

// IssueCertificate obtains a TLS certificate for the domain via certbot.
func (t *SSHTarget) IssueCertificate(ctx context.Context, domain string) error {
	logger.InfoKV(ctx, "Issuing TLS certificate", "domain", domain)

	_, err := t.run(ctx, fmt.Sprintf(
		"sudo certbot --nginx -d %s --non-interactive --agree-tos --register-unsafely-without-email",
		shellQuote(domain)), "")

	return err
}

// BuildService creates the virtualenv and installs dependencies in the active slot.
func (t *SSHTarget) BuildService(ctx context.Context) error {
	logger.Info(ctx, "Building service in the active slot")

	activePath := shellQuote(t.slotPath(SlotActive))

	_, err := t.run(ctx, fmt.Sprintf(
		"cd %s && python3 -m venv venv && venv/bin/pip install --upgrade pip && venv/bin/pip install -r requirements.txt",
		activePath), "")

	return err
}

// RestartService restarts the systemd unit for the pipeline service.
func (t *SSHTarget) RestartService(ctx context.Context) error {
	_, err := t.run(ctx, fmt.Sprintf(
		"sudo systemctl restart %s", shellQuote(t.cfg.ServiceName)), "")

	return err
}

// StopService stops the systemd unit; a unit that is not running is fine.
func (t *SSHTarget) StopService(ctx context.Context) error {
	_, err := t.run(ctx, fmt.Sprintf(
		"sudo systemctl stop %s || true", shellQuote(t.cfg.ServiceName)), "")

	return err
}

// RemoveActiveSlot deletes the active slot directory.
func (t *SSHTarget) RemoveActiveSlot(ctx context.Context) error {
	_, err := t.run(ctx, fmt.Sprintf("rm -rf %s", shellQuote(t.slotPath(SlotActive))), "")

	return err
}

// RestoreBackup promotes the backup slot back to active.
func (t *SSHTarget) RestoreBackup(ctx context.Context) error {
	hasBackup, err := t.HasSlot(ctx, SlotBackup)
	if err != nil {
		return err
	}

	if !hasBackup {
		return ErrNoBackup
	}

	_, err = t.run(ctx, fmt.Sprintf(
		"mv %s %s",
		shellQuote(t.slotPath(SlotBackup)), shellQuote(t.slotPath(SlotActive))), "")

	return err
}

// ServiceURL is the address health probes use. The probe goes straight to the
// service port: a deploy must be judged on the service itself, not on
// whatever the proxy caches.
func (t *SSHTarget) ServiceURL() string {
	return fmt.Sprintf("http://%s", net.JoinHostPort(t.cfg.Host, strconv.Itoa(t.cfg.ServicePort)))
}

// Close terminates the SSH connection.
func (t *SSHTarget) Close() error {
	if t == nil || t.client == nil {
		return nil
	}

	return t.client.Close()
}

// run executes a remote command, optionally feeding stdin, honoring ctx.
// Only the command is ever logged; stdin may carry secrets.
func (t *SSHTarget) run(ctx context.Context, command, stdin string) (string, error) {
	session, err := t.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("open ssh session: %w", err)
	}

	defer func() {
		_ = session.Close()
	}()

	if stdin != "" {
		session.Stdin = strings.NewReader(stdin)
	}

	logger.DebugKV(ctx, "Running remote command", "command", command)

	type result struct {
		output []byte
		err    error
	}

	done := make(chan result, 1)

	go func() {
		output, runErr := session.CombinedOutput(command)
		done <- result{output: output, err: runErr}
	}()

	select {
	case <-ctx.Done():
		_ = session.Close()
		return "", ctx.Err()
	case res := <-done:
		if res.err != nil {
			return string(res.output), fmt.Errorf("%w: %s: %s",
				errCommandFailed, command, strings.TrimSpace(string(res.output)))
		}

		return string(res.output), nil
	}
}

// slotPath is the absolute remote path of a slot directory.
func (t *SSHTarget) slotPath(slot Slot) string {
	return path.Join(t.cfg.RemoteRoot, string(slot))
}

// shellQuote wraps a value in single quotes for safe interpolation.
func shellQuote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}
