package callback

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netpulse/netpulse/pkg/errdefs"
	"github.com/netpulse/netpulse/pkg/queue"
	"github.com/netpulse/netpulse/pkg/store"
	"github.com/netpulse/netpulse/pkg/types"
)

func stageJob(t *testing.T, st store.Store, webhook *types.WebhookSpec) *types.Job {
	t.Helper()
	job := queue.NewJob("FifoQ", queue.Options{
		Func: types.TaskExecute,
		Request: &types.ExecutionRequest{
			Driver:         "eapi",
			ConnectionArgs: types.ConnectionArgs{"host": "sw1.lab"},
			Command:        types.ListPayload("show version", "show hostname"),
			Webhook:        webhook,
		},
		TTL:        60,
		Timeout:    60,
		ResultTTL:  60,
		FailureTTL: 60,
	})
	require.NoError(t, queue.Commit(context.Background(), st, job))
	return job
}

func TestResolve(t *testing.T) {
	fn, err := Resolve(NameWebhook)
	require.NoError(t, err)
	assert.NotNil(t, fn)

	_, err = Resolve("no_such_callback")
	require.Error(t, err)
	assert.True(t, errdefs.IsNotFound(err))
	assert.Equal(t, []string{NameException, NameWebhook}, Names())
}

func TestExceptionCallback(t *testing.T) {
	st := store.NewMemStore()
	defer st.Close()
	job := stageJob(t, st, nil)

	err := ExceptionCallback(context.Background(), Invocation{
		Store: st,
		Job:   job,
		Err:   fmt.Errorf("%w: session setup failed", errdefs.ErrDriver),
	})
	require.NoError(t, err)
	assert.Equal(t, "DriverError", job.Meta.ErrorType)
	assert.Contains(t, job.Meta.ErrorMessage, "session setup failed")

	stored, err := queue.Fetch(context.Background(), st, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "DriverError", stored.Meta.ErrorType)
}

func TestExceptionCallbackWithoutError(t *testing.T) {
	st := store.NewMemStore()
	defer st.Close()
	job := stageJob(t, st, nil)

	require.NoError(t, ExceptionCallback(context.Background(), Invocation{Store: st, Job: job}))
	assert.Empty(t, job.Meta.ErrorType)
}

func TestWebhookDeliversResult(t *testing.T) {
	var got webhookBody
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "abc", r.Header.Get("X-Custom"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	st := store.NewMemStore()
	defer st.Close()
	job := stageJob(t, st, &types.WebhookSpec{
		URL:     srv.URL,
		Headers: map[string]string{"X-Custom": "abc"},
		Auth:    &types.WebhookBasicAuth{Username: "hook", Password: "secret"},
	})
	job.Status = types.JobStatusFinished

	result := &types.JobResult{Retval: map[string]types.DriverExecutionResult{
		"show version": {Output: "4.28.0F", ExitStatus: 0},
	}}
	err := WebhookCallback(context.Background(), Invocation{Store: st, Job: job, Result: result})
	require.NoError(t, err)

	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, types.JobStatusFinished, got.Status)
	assert.Equal(t, "eapi", got.Driver)
	assert.Equal(t, "sw1.lab", got.Device)
	assert.Equal(t, "show version\nshow hostname", got.Command)
	assert.NotEmpty(t, auth, "basic auth header should be set")

	retval, ok := got.Result.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, retval, "show version")
}

func TestWebhookFailurePathRecordsErrorFirst(t *testing.T) {
	var got webhookBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	st := store.NewMemStore()
	defer st.Close()
	job := stageJob(t, st, &types.WebhookSpec{URL: srv.URL})

	err := WebhookCallback(context.Background(), Invocation{
		Store: st,
		Job:   job,
		Err:   fmt.Errorf("%w: wall clock exceeded", errdefs.ErrTimeout),
	})
	require.NoError(t, err)

	assert.Equal(t, types.JobStatusFailed, got.Status)
	tuple, ok := got.Result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "TimeoutError", tuple["error_type"])

	stored, err := queue.Fetch(context.Background(), st, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "TimeoutError", stored.Meta.ErrorType)
}

func TestWebhookDeliveryFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	st := store.NewMemStore()
	defer st.Close()
	job := stageJob(t, st, &types.WebhookSpec{URL: srv.URL})
	job.Status = types.JobStatusFinished

	err := WebhookCallback(context.Background(), Invocation{Store: st, Job: job})
	require.Error(t, err)
	assert.Equal(t, "WebhookError", errdefs.Kind(err))
}

func TestWebhookRemovesStagedFiles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	staged := filepath.Join(t.TempDir(), "rendered.cfg")
	require.NoError(t, os.WriteFile(staged, []byte("interface Vlan10\n"), 0o600))

	st := store.NewMemStore()
	defer st.Close()
	job := stageJob(t, st, &types.WebhookSpec{URL: srv.URL, StagedFiles: []string{staged}})
	job.Status = types.JobStatusFinished

	require.NoError(t, WebhookCallback(context.Background(), Invocation{Store: st, Job: job}))
	_, err := os.Stat(staged)
	assert.True(t, os.IsNotExist(err))
}

func TestWebhookWithoutSpec(t *testing.T) {
	st := store.NewMemStore()
	defer st.Close()
	job := stageJob(t, st, nil)

	err := WebhookCallback(context.Background(), Invocation{Store: st, Job: job})
	require.Error(t, err)
	assert.True(t, errdefs.IsValidation(err))
}

func TestRunUnresolvedName(t *testing.T) {
	st := store.NewMemStore()
	defer st.Close()
	job := stageJob(t, st, nil)

	err := Run(context.Background(), &types.Callback{Name: "vanished"}, Invocation{Store: st, Job: job})
	require.Error(t, err)
	assert.True(t, errdefs.IsNotFound(err))

	// The miss is recorded on the job so operators can see why the
	// callback phase failed.
	stored, err := queue.Fetch(context.Background(), st, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "NotFound", stored.Meta.ErrorType)
}

func TestRunNilReference(t *testing.T) {
	require.NoError(t, Run(context.Background(), nil, Invocation{}))
}
