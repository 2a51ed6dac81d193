package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netpulse/netpulse/pkg/driver"
	"github.com/netpulse/netpulse/pkg/errdefs"
	"github.com/netpulse/netpulse/pkg/types"
)

func mockReq(host string) *types.ExecutionRequest {
	return &types.ExecutionRequest{
		Driver:         driver.NameMock,
		ConnectionArgs: types.ConnectionArgs{"host": host},
		Command:        types.StringPayload("show version"),
	}
}

func TestExecuteHappyPath(t *testing.T) {
	ctx := context.Background()
	req := mockReq("10.0.0.1")

	results, err := Execute(ctx, req, Env{})
	require.NoError(t, err)
	require.Len(t, results, 1)

	res := results["show version"]
	assert.Equal(t, 0, res.ExitStatus)
	assert.Equal(t, "mock: show version", res.Output)
	assert.Equal(t, false, res.Telemetry[types.TelemetrySessionReused])
	assert.Equal(t, "10.0.0.1", res.Telemetry[types.TelemetryHost])
}

func TestExecuteUnknownDriver(t *testing.T) {
	req := mockReq("10.0.0.1")
	req.Driver = "telnet"

	_, err := Execute(context.Background(), req, Env{})
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}

func TestExecuteRenderDictPayload(t *testing.T) {
	ctx := context.Background()
	req := mockReq("10.0.0.1")
	req.Command = types.DictPayload(map[string]any{"cmd": "show version"})
	req.Rendering = &types.RenderingSpec{
		Name:     "gotemplate",
		Template: "{{.cmd}}",
	}

	results, err := Execute(ctx, req, Env{})
	require.NoError(t, err)

	res, ok := results["show version"]
	require.True(t, ok, "rendered payload becomes the command key")
	assert.Equal(t, "mock: show version", res.Output)
	assert.Nil(t, req.Rendering, "rendering section is cleared after render")
	assert.Equal(t, []string{"show version"}, req.Command.Lines())
}

func TestExecuteRenderInlinePayload(t *testing.T) {
	ctx := context.Background()
	req := mockReq("10.0.0.1")
	req.Command = types.StringPayload("{{ upper \"uptime\" }}")
	req.Rendering = &types.RenderingSpec{Name: "gotemplate"}

	results, err := Execute(ctx, req, Env{})
	require.NoError(t, err)
	_, ok := results["UPTIME"]
	assert.True(t, ok, "inline payload is the template source")
}

func TestExecuteRenderContextMerge(t *testing.T) {
	ctx := context.Background()
	req := mockReq("10.0.0.1")
	req.Command = types.DictPayload(map[string]any{"iface": "Ethernet1"})
	req.Rendering = &types.RenderingSpec{
		Name:     "gotemplate",
		Template: "show interfaces {{.iface}} {{.detail}}",
		Context:  map[string]any{"detail": "status", "iface": "overridden"},
	}

	results, err := Execute(ctx, req, Env{})
	require.NoError(t, err)
	_, ok := results["show interfaces Ethernet1 status"]
	assert.True(t, ok, "payload keys override the rendering context")
}

func TestExecuteRejectsAmbiguousRendering(t *testing.T) {
	req := mockReq("10.0.0.1")
	req.Command = types.StringPayload("show version")
	req.Rendering = &types.RenderingSpec{
		Name:     "gotemplate",
		Template: "{{.cmd}}",
	}

	_, err := Execute(context.Background(), req, Env{})
	assert.ErrorIs(t, err, errdefs.ErrValidation)
}

func TestExecuteRendersScriptContent(t *testing.T) {
	ctx := context.Background()
	req := mockReq("10.0.0.1")
	req.Command = types.DictPayload(map[string]any{"cmd": "run"})
	req.DriverArgs = map[string]any{"script_content": "echo {{.cmd}}"}
	req.Rendering = &types.RenderingSpec{Name: "gotemplate", Template: "{{.cmd}}"}

	_, err := Execute(ctx, req, Env{})
	require.NoError(t, err)
	assert.Equal(t, "echo run", req.DriverArgs["script_content"])
}

func TestExecuteConnectFailureFoldsIntoResults(t *testing.T) {
	ctx := context.Background()
	req := mockReq("10.0.0.2")
	req.ConnectionArgs["fail_connect"] = true
	req.Command = types.ListPayload("show version", "show clock")

	results, err := Execute(ctx, req, Env{})
	require.NoError(t, err, "connect faults must not abort the pipeline")
	require.Len(t, results, 2)
	for _, cmd := range []string{"show version", "show clock"} {
		res := results[cmd]
		assert.Equal(t, 1, res.ExitStatus)
		assert.Contains(t, res.Error, "connect refused")
	}
}

func TestExecuteConfigFaultKeyedByJoinedBlock(t *testing.T) {
	ctx := context.Background()
	req := mockReq("10.0.0.2")
	req.ConnectionArgs["fail_connect"] = true
	req.Command = nil
	req.Config = types.ListPayload("vlan 10", "name users")

	results, err := Execute(ctx, req, Env{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	res, ok := results["vlan 10\nname users"]
	require.True(t, ok)
	assert.Equal(t, 1, res.ExitStatus)
}

func TestExecuteParse(t *testing.T) {
	ctx := context.Background()
	req := mockReq("10.0.0.1")
	req.Parsing = &types.ParsingSpec{
		Name:     "regex",
		Template: `mock: (?P<word>\w+)`,
	}

	results, err := Execute(ctx, req, Env{})
	require.NoError(t, err)

	res := results["show version"]
	parsed, ok := res.Parsed.([]map[string]string)
	require.True(t, ok, "parsed should be the regex record list, got %T", res.Parsed)
	require.Len(t, parsed, 1)
	assert.Equal(t, "show", parsed[0]["word"])
}

func TestExecuteIdentityRoundTrip(t *testing.T) {
	// identity renderer + identity parser: parsed equals raw output
	ctx := context.Background()
	req := mockReq("10.0.0.1")
	req.Command = types.StringPayload("show clock")
	req.Rendering = &types.RenderingSpec{Name: "identity"}
	req.Parsing = &types.ParsingSpec{Name: "identity"}

	results, err := Execute(ctx, req, Env{})
	require.NoError(t, err)
	res := results["show clock"]
	assert.Equal(t, res.Output, res.Parsed)
}

func TestExecuteParseSkipsFailedCommands(t *testing.T) {
	ctx := context.Background()
	req := mockReq("10.0.0.3")
	req.DriverArgs = map[string]any{"fail_commands": true}
	req.Parsing = &types.ParsingSpec{Name: "regex", Template: `.+`}

	results, err := Execute(ctx, req, Env{})
	require.NoError(t, err)
	res := results["show version"]
	assert.Equal(t, 1, res.ExitStatus)
	assert.Nil(t, res.Parsed)
}

// recordingBroker counts acquisitions and simulates a cached session.
type recordingBroker struct {
	acquired int
	released int
	reused   bool
}

func (b *recordingBroker) Acquire(ctx context.Context, drv driver.Driver, _ types.ConnectionArgs) (driver.Session, bool, error) {
	b.acquired++
	sess, err := drv.Connect(ctx)
	return sess, b.reused, err
}

func (b *recordingBroker) Release(drv driver.Driver, sess driver.Session, failed bool) {
	b.released++
	_ = drv.Disconnect(sess, false)
}

func TestExecuteUsesBroker(t *testing.T) {
	ctx := context.Background()
	broker := &recordingBroker{reused: true}

	results, err := Execute(ctx, mockReq("10.0.0.1"), Env{Broker: broker})
	require.NoError(t, err)
	assert.Equal(t, 1, broker.acquired)
	assert.Equal(t, 1, broker.released)
	assert.Equal(t, true, results["show version"].Telemetry[types.TelemetrySessionReused])
}
