package driver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/netpulse/netpulse/pkg/errdefs"
	"github.com/netpulse/netpulse/pkg/types"
)

// NameSSH executes commands over a plain SSH exec channel. It is
// session-oriented: pinned workers hold the ssh.Client open between jobs
// and ping it with keepalive requests.
const NameSSH = "ssh"

const (
	defaultSSHPort    = 22
	defaultSSHTimeout = 30 * time.Second
)

type sshDriver struct {
	host     string
	port     int
	username string
	password string
	keyPEM   string
	timeout  time.Duration
}

type sshSession struct {
	client *ssh.Client
}

func (s *sshSession) Close() error { return s.client.Close() }

func newSSHDriver(req *types.ExecutionRequest) (Driver, error) {
	args := req.ConnectionArgs
	d := &sshDriver{
		host:     args.Host(),
		port:     defaultSSHPort,
		username: argString(args, "username", ""),
		password: argString(args, "password", ""),
		keyPEM:   argString(args, "private_key", ""),
		timeout:  defaultSSHTimeout,
	}
	if p := args.Port(); p != 0 {
		d.port = p
	}
	if t := argInt(args, "timeout", 0); t > 0 {
		d.timeout = time.Duration(t) * time.Second
	}
	if err := d.Validate(req); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *sshDriver) Name() string          { return NameSSH }
func (d *sshDriver) SessionOriented() bool { return true }

func (d *sshDriver) Validate(req *types.ExecutionRequest) error {
	if d.host == "" {
		return errdefs.Validationf("ssh: connection_args.host is required")
	}
	if d.username == "" {
		return errdefs.Validationf("ssh: connection_args.username is required")
	}
	if d.password == "" && d.keyPEM == "" {
		return errdefs.Validationf("ssh: one of connection_args.password or connection_args.private_key is required")
	}
	return nil
}

func (d *sshDriver) clientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if d.keyPEM != "" {
		signer, err := ssh.ParsePrivateKey([]byte(d.keyPEM))
		if err != nil {
			return nil, errdefs.Validationf("ssh: parse private_key: %v", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if d.password != "" {
		auth = append(auth, ssh.Password(d.password))
	}
	return &ssh.ClientConfig{
		User: d.username,
		Auth: auth,
		// Network devices rotate host keys on RMA and config wipe, so
		// pinning them would strand jobs. Reachability is scoped by the
		// operator's network, not by host key trust.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         d.timeout,
	}, nil
}

// Connect dials the device and performs the SSH handshake. The context
// bounds the TCP dial and the handshake together.
func (d *sshDriver) Connect(ctx context.Context) (Session, error) {
	cfg, err := d.clientConfig()
	if err != nil {
		return nil, err
	}
	addr := net.JoinHostPort(d.host, fmt.Sprintf("%d", d.port))
	dialer := net.Dialer{Timeout: d.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", errdefs.ErrDriver, addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil, fmt.Errorf("%w: %s: %v", errdefs.ErrAuthentication, addr, err)
		}
		return nil, fmt.Errorf("%w: handshake %s: %v", errdefs.ErrDriver, addr, err)
	}
	_ = conn.SetDeadline(time.Time{})
	return &sshSession{client: ssh.NewClient(c, chans, reqs)}, nil
}

func (d *sshDriver) Disconnect(sess Session, reset bool) error {
	if sess == nil {
		return nil
	}
	return sess.Close()
}

// Send runs each command on its own exec channel over the shared client
// connection. A command failure is recorded in its result entry and does
// not stop the remaining commands.
func (d *sshDriver) Send(ctx context.Context, sess Session, commands []string) (map[string]types.DriverExecutionResult, error) {
	s, err := asSSHSession(sess)
	if err != nil {
		return nil, err
	}
	results := make(map[string]types.DriverExecutionResult, len(commands))
	for _, cmd := range commands {
		results[cmd] = d.run(ctx, s.client, cmd)
		if ctx.Err() != nil {
			break
		}
	}
	return results, nil
}

func (d *sshDriver) run(ctx context.Context, client *ssh.Client, cmd string) types.DriverExecutionResult {
	start := time.Now()
	res := types.DriverExecutionResult{
		Telemetry: map[string]any{types.TelemetryHost: d.host},
	}
	session, err := client.NewSession()
	if err != nil {
		res.Error = fmt.Sprintf("open channel: %v", err)
		res.ExitStatus = 1
		res.Telemetry[types.TelemetryDuration] = time.Since(start).Seconds()
		return res
	}
	defer session.Close()

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = session.Close()
		case <-done:
		}
	}()
	out, err := session.CombinedOutput(cmd)
	close(done)

	res.Output = string(out)
	res.Telemetry[types.TelemetryDuration] = time.Since(start).Seconds()
	if err != nil {
		res.ExitStatus = 1
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			res.ExitStatus = exitErr.ExitStatus()
		}
		if ctx.Err() != nil {
			res.Error = fmt.Sprintf("command interrupted: %v", ctx.Err())
		} else {
			res.Error = err.Error()
		}
	}
	return res
}

// Config streams the lines into a single remote shell on one channel so
// that mode-entering lines ("configure terminal") apply to the lines that
// follow. The result map is keyed by the joined block.
func (d *sshDriver) Config(ctx context.Context, sess Session, lines []string) (map[string]types.DriverExecutionResult, error) {
	s, err := asSSHSession(sess)
	if err != nil {
		return nil, err
	}
	key := strings.Join(lines, "\n")
	start := time.Now()
	res := types.DriverExecutionResult{
		Telemetry: map[string]any{types.TelemetryHost: d.host},
	}

	session, err := s.client.NewSession()
	if err != nil {
		res.Error = fmt.Sprintf("open channel: %v", err)
		res.ExitStatus = 1
		res.Telemetry[types.TelemetryDuration] = time.Since(start).Seconds()
		return map[string]types.DriverExecutionResult{key: res}, nil
	}
	defer session.Close()

	var buf bytes.Buffer
	session.Stdin = strings.NewReader(key + "\n")
	session.Stdout = &buf
	session.Stderr = &buf

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = session.Close()
		case <-done:
		}
	}()
	err = session.Shell()
	if err == nil {
		err = session.Wait()
	}
	close(done)

	res.Output = buf.String()
	res.Telemetry[types.TelemetryDuration] = time.Since(start).Seconds()
	if err != nil {
		res.ExitStatus = 1
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			res.ExitStatus = exitErr.ExitStatus()
		}
		if ctx.Err() != nil {
			res.Error = fmt.Sprintf("config interrupted: %v", ctx.Err())
		} else {
			res.Error = err.Error()
		}
	}
	return map[string]types.DriverExecutionResult{key: res}, nil
}

// Keepalive sends a global request and waits for the reply, which proves
// the transport is still answering rather than merely open.
func (d *sshDriver) Keepalive(ctx context.Context, sess Session) error {
	s, err := asSSHSession(sess)
	if err != nil {
		return err
	}
	type reply struct{ err error }
	ch := make(chan reply, 1)
	go func() {
		_, _, err := s.client.SendRequest("keepalive@openssh.com", true, nil)
		ch <- reply{err: err}
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: keepalive %s: %v", errdefs.ErrDriver, d.host, ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return fmt.Errorf("%w: keepalive %s: %v", errdefs.ErrDriver, d.host, r.err)
		}
		return nil
	}
}

func (d *sshDriver) Test(ctx context.Context) (*types.DeviceTestInfo, error) {
	start := time.Now()
	sess, err := d.Connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = d.Disconnect(sess, true) }()
	s, err := asSSHSession(sess)
	if err != nil {
		return nil, err
	}
	return &types.DeviceTestInfo{
		Driver:    NameSSH,
		Host:      d.host,
		Transport: "ssh",
		Prompt:    string(s.client.ServerVersion()),
		Duration:  time.Since(start).Seconds(),
	}, nil
}

func asSSHSession(sess Session) (*sshSession, error) {
	s, ok := sess.(*sshSession)
	if !ok || s == nil || s.client == nil {
		return nil, fmt.Errorf("%w: ssh: session is not connected", errdefs.ErrDriver)
	}
	return s, nil
}
