package driver

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/netpulse/netpulse/pkg/errdefs"
	"github.com/netpulse/netpulse/pkg/types"
)

// NameEAPI executes commands through an Arista-style JSON-RPC endpoint
// over HTTP(S). Each request is a fresh RPC call, so the driver is
// stateless and defaults to the FIFO queue.
const NameEAPI = "eapi"

const (
	defaultEAPITimeout = 30 * time.Second
	eapiRPCVersion     = "2.0"
	eapiRunCmds        = "runCmds"
)

type eapiDriver struct {
	host      string
	transport string
	port      int
	username  string
	password  string
	timeout   time.Duration
	verify    bool
}

// eapiSession wraps the HTTP client. There is no device-side state to
// tear down, so Close is a no-op.
type eapiSession struct {
	client *resty.Client
}

func (s *eapiSession) Close() error { return nil }

type eapiRequest struct {
	JSONRPC string     `json:"jsonrpc"`
	Method  string     `json:"method"`
	Params  eapiParams `json:"params"`
	ID      string     `json:"id"`
}

type eapiParams struct {
	Version int    `json:"version"`
	Cmds    []any  `json:"cmds"`
	Format  string `json:"format"`
}

type eapiResponse struct {
	JSONRPC string `json:"jsonrpc"`
	Result  []any  `json:"result"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Data    []any  `json:"data"`
	} `json:"error"`
}

func newEAPIDriver(req *types.ExecutionRequest) (Driver, error) {
	args := req.ConnectionArgs
	d := &eapiDriver{
		host:      args.Host(),
		transport: argString(args, "transport", "https"),
		username:  argString(args, "username", ""),
		password:  argString(args, "password", ""),
		timeout:   defaultEAPITimeout,
		verify:    argBool(args, "verify", false),
	}
	if p := args.Port(); p != 0 {
		d.port = p
	} else if d.transport == "http" {
		d.port = 80
	} else {
		d.port = 443
	}
	if t := argInt(args, "timeout", 0); t > 0 {
		d.timeout = time.Duration(t) * time.Second
	}
	if err := d.Validate(req); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *eapiDriver) Name() string          { return NameEAPI }
func (d *eapiDriver) SessionOriented() bool { return false }

func (d *eapiDriver) Validate(req *types.ExecutionRequest) error {
	if d.host == "" {
		return errdefs.Validationf("eapi: connection_args.host is required")
	}
	if d.username == "" || d.password == "" {
		return errdefs.Validationf("eapi: connection_args.username and password are required")
	}
	switch d.transport {
	case "http", "https":
	default:
		return errdefs.Validationf("eapi: transport must be http or https, got %q", d.transport)
	}
	return nil
}

func (d *eapiDriver) endpoint() string {
	return fmt.Sprintf("%s://%s:%d/command-api", d.transport, d.host, d.port)
}

// Connect builds the HTTP client. No bytes hit the wire until the first
// RPC, matching the cheap-session contract of stateless drivers.
func (d *eapiDriver) Connect(ctx context.Context) (Session, error) {
	client := resty.New().
		SetBaseURL(d.endpoint()).
		SetTimeout(d.timeout).
		SetHeader("Content-Type", "application/json").
		SetBasicAuth(d.username, d.password)
	if !d.verify {
		client.SetTLSClientConfig(insecureTLS())
	}
	return &eapiSession{client: client}, nil
}

func (d *eapiDriver) Disconnect(sess Session, reset bool) error {
	if sess == nil {
		return nil
	}
	return sess.Close()
}

// call runs one RPC; format "json" returns structured results, "text"
// returns raw CLI output per command.
func (d *eapiDriver) call(ctx context.Context, sess *eapiSession, cmds []any, format string) (*eapiResponse, error) {
	body := eapiRequest{
		JSONRPC: eapiRPCVersion,
		Method:  eapiRunCmds,
		Params:  eapiParams{Version: 1, Cmds: cmds, Format: format},
		ID:      "netpulse",
	}
	var out eapiResponse
	resp, err := sess.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		SetError(&out).
		Post("")
	if err != nil {
		return nil, fmt.Errorf("%w: eapi %s: %v", errdefs.ErrDriver, d.host, err)
	}
	if resp.IsError() && out.Error == nil {
		return nil, fmt.Errorf("%w: eapi %s: HTTP %d", errdefs.ErrDriver, d.host, resp.StatusCode())
	}
	return &out, nil
}

// Send runs all commands in one RPC. The device stops at the first
// failing command; commands after it are reported as not attempted.
func (d *eapiDriver) Send(ctx context.Context, sess Session, commands []string) (map[string]types.DriverExecutionResult, error) {
	s, err := asEAPISession(sess)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	cmds := make([]any, len(commands))
	for i, c := range commands {
		cmds[i] = c
	}
	resp, err := d.call(ctx, s, cmds, "json")

	results := make(map[string]types.DriverExecutionResult, len(commands))
	elapsed := time.Since(start).Seconds()
	for i, cmd := range commands {
		res := types.DriverExecutionResult{
			Telemetry: map[string]any{
				types.TelemetryHost:     d.host,
				types.TelemetryDuration: elapsed,
			},
		}
		switch {
		case err != nil:
			res.Error = err.Error()
			res.ExitStatus = 1
		case resp.Error != nil:
			res.ExitStatus = 1
			res.Error = fmt.Sprintf("eapi error %d: %s", resp.Error.Code, resp.Error.Message)
			if i < len(resp.Error.Data) {
				res.Output = resp.Error.Data[i]
			}
		case i < len(resp.Result):
			res.Output = resp.Result[i]
		default:
			res.Error = "command not attempted"
			res.ExitStatus = 1
		}
		results[cmd] = res
	}
	return results, nil
}

// Config wraps the lines in a configure/end block and applies them as a
// single unit. The result is keyed by the joined config string.
func (d *eapiDriver) Config(ctx context.Context, sess Session, lines []string) (map[string]types.DriverExecutionResult, error) {
	s, err := asEAPISession(sess)
	if err != nil {
		return nil, err
	}
	key := strings.Join(lines, "\n")
	start := time.Now()

	cmds := make([]any, 0, len(lines)+2)
	cmds = append(cmds, "configure")
	for _, l := range lines {
		cmds = append(cmds, l)
	}
	cmds = append(cmds, "end")
	resp, err := d.call(ctx, s, cmds, "text")

	res := types.DriverExecutionResult{
		Telemetry: map[string]any{
			types.TelemetryHost:     d.host,
			types.TelemetryDuration: time.Since(start).Seconds(),
		},
	}
	switch {
	case err != nil:
		res.Error = err.Error()
		res.ExitStatus = 1
	case resp.Error != nil:
		res.ExitStatus = 1
		res.Error = fmt.Sprintf("eapi error %d: %s", resp.Error.Code, resp.Error.Message)
		res.Output = resp.Error.Data
	default:
		res.Output = resp.Result
	}
	return map[string]types.DriverExecutionResult{key: res}, nil
}

// Test probes the device with "show version" and reports the transport.
func (d *eapiDriver) Test(ctx context.Context) (*types.DeviceTestInfo, error) {
	start := time.Now()
	sess, err := d.Connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = d.Disconnect(sess, true) }()
	s, err := asEAPISession(sess)
	if err != nil {
		return nil, err
	}
	resp, err := d.call(ctx, s, []any{"show version"}, "json")
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%w: eapi %s: %s", errdefs.ErrDriver, d.host, resp.Error.Message)
	}
	return &types.DeviceTestInfo{
		Driver:    NameEAPI,
		Host:      d.host,
		Transport: d.transport,
		Duration:  time.Since(start).Seconds(),
	}, nil
}

// insecureTLS matches the usual eAPI deployment: the management plane
// speaks HTTPS with a self-signed certificate. Set verify=true in the
// connection args to enforce verification.
func insecureTLS() *tls.Config {
	return &tls.Config{InsecureSkipVerify: true}
}

func asEAPISession(sess Session) (*eapiSession, error) {
	s, ok := sess.(*eapiSession)
	if !ok || s == nil || s.client == nil {
		return nil, fmt.Errorf("%w: eapi: session is not connected", errdefs.ErrDriver)
	}
	return s, nil
}
