package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netpulse/netpulse/pkg/render"
	"github.com/netpulse/netpulse/pkg/types"
	"github.com/netpulse/netpulse/test/framework"
)

type delivery struct {
	body   []byte
	header http.Header
}

// webhookPayload mirrors the delivery body contract callers integrate
// against.
type webhookPayload struct {
	ID      string          `json:"id"`
	Status  string          `json:"status"`
	Driver  string          `json:"driver"`
	Device  string          `json:"device"`
	Command string          `json:"command"`
	Result  json.RawMessage `json:"result"`
}

func newHookReceiver(t *testing.T) (*httptest.Server, chan delivery) {
	t.Helper()
	ch := make(chan delivery, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		ch <- delivery{body: b, header: r.Header.Clone()}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv, ch
}

func waitDelivery(t *testing.T, ch chan delivery) delivery {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(10 * time.Second):
		t.Fatal("webhook was never delivered")
		return delivery{}
	}
}

// TestWebhookOnSuccess checks a finished job posts its result map to the
// requested endpoint with the requested headers.
func TestWebhookOnSuccess(t *testing.T) {
	cluster := framework.StartCluster(t, nil)
	waiter := framework.DefaultWaiter()
	ctx := context.Background()
	hook, deliveries := newHookReceiver(t)

	req := mockRequest("cb-1", "show version")
	req.Webhook = &types.WebhookSpec{
		URL:     hook.URL,
		Headers: map[string]string{"X-Token": "s3cret"},
	}
	job, err := cluster.Client.Execute(ctx, req)
	require.NoError(t, err)
	require.NoError(t, waiter.WaitForJobStatus(ctx, cluster, job.JobID, types.JobStatusFinished))

	d := waitDelivery(t, deliveries)
	assert.Equal(t, "s3cret", d.header.Get("X-Token"))
	assert.Equal(t, "application/json", d.header.Get("Content-Type"))

	var got webhookPayload
	require.NoError(t, json.Unmarshal(d.body, &got))
	assert.Equal(t, job.JobID, got.ID)
	assert.Equal(t, "finished", got.Status)
	assert.Equal(t, "mock", got.Driver)
	assert.Equal(t, "cb-1", got.Device)
	assert.Equal(t, "show version", got.Command)

	var retval map[string]types.DriverExecutionResult
	require.NoError(t, json.Unmarshal(got.Result, &retval))
	res, ok := retval["show version"]
	require.True(t, ok)
	assert.Equal(t, "mock: show version", res.Output)
}

// TestWebhookOnFailure checks a failed job delivers the normalized error
// tuple instead of a result map. The job fails at render time, after
// dispatch accepted it.
func TestWebhookOnFailure(t *testing.T) {
	cluster := framework.StartCluster(t, nil)
	waiter := framework.DefaultWaiter()
	ctx := context.Background()
	hook, deliveries := newHookReceiver(t)

	req := mockRequest("cb-2", "{{ .broken")
	req.Rendering = &types.RenderingSpec{Name: render.RendererGoTemplate}
	req.Webhook = &types.WebhookSpec{URL: hook.URL}
	job, err := cluster.Client.Execute(ctx, req)
	require.NoError(t, err)
	require.NoError(t, waiter.WaitForJobStatus(ctx, cluster, job.JobID, types.JobStatusFailed))

	d := waitDelivery(t, deliveries)
	var got webhookPayload
	require.NoError(t, json.Unmarshal(d.body, &got))
	assert.Equal(t, job.JobID, got.ID)
	assert.Equal(t, "failed", got.Status)
	assert.Equal(t, "cb-2", got.Device)

	var tuple map[string]string
	require.NoError(t, json.Unmarshal(got.Result, &tuple))
	assert.Equal(t, "ValidationError", tuple["error_type"])
	assert.Contains(t, tuple["error_message"], "template")

	// The job record carries the same tuple for pollers.
	rec, err := cluster.Client.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	require.NotNil(t, rec.Error)
	assert.Equal(t, "ValidationError", rec.Error.Type)
}
