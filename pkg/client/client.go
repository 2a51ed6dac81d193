package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/netpulse/netpulse/pkg/api"
	"github.com/netpulse/netpulse/pkg/types"
)

const defaultTimeout = 30 * time.Second

// Client talks to a controller's REST API. It is safe for concurrent
// use; the CLI creates one per invocation, long-lived callers should
// reuse one.
type Client struct {
	http *resty.Client
}

// NewClient builds a client against the controller base URL,
// authenticating every request with the API key under the default
// header name.
func NewClient(baseURL, apiKey string) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(defaultTimeout).
		SetHeader("Content-Type", "application/json")
	if apiKey != "" {
		c.SetHeader("X-API-KEY", apiKey)
	}
	return &Client{http: c}
}

// SetAPIKeyName switches the header the key is sent under, for
// controllers configured with a non-default server.api_key_name.
func (c *Client) SetAPIKeyName(name, apiKey string) *Client {
	c.http.Header.Del("X-API-KEY")
	c.http.SetHeader(name, apiKey)
	return c
}

// SetTimeout overrides the per-request timeout.
func (c *Client) SetTimeout(d time.Duration) *Client {
	c.http.SetTimeout(d)
	return c
}

// envelope mirrors the server's uniform response body.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// do runs one request and unwraps the envelope into out.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	req := c.http.R().SetContext(ctx)
	if query != nil {
		req.SetQueryParamsFromValues(query)
	}
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return fmt.Errorf("decode response (%s): %w", resp.Status(), err)
	}
	if resp.IsError() || env.Code != 0 {
		if env.Message != "" {
			return errors.New(env.Message)
		}
		return fmt.Errorf("unexpected response %s", resp.Status())
	}
	if out != nil && len(env.Data) > 0 {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}

// Execute dispatches one request and returns the queued job.
func (c *Client) Execute(ctx context.Context, req *types.ExecutionRequest) (*api.JobInResponse, error) {
	var job api.JobInResponse
	if err := c.do(ctx, http.MethodPost, "/device/execute", nil, req, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ExecuteBulk dispatches a batch and returns its partition.
func (c *Client) ExecuteBulk(ctx context.Context, batch *types.BatchExecutionRequest) (*api.BulkResponse, error) {
	var resp api.BulkResponse
	if err := c.do(ctx, http.MethodPost, "/device/bulk", nil, batch, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestConnection probes a device through the controller.
func (c *Client) TestConnection(ctx context.Context, req *types.ExecutionRequest) (*types.DeviceTestInfo, error) {
	var info types.DeviceTestInfo
	if err := c.do(ctx, http.MethodPost, "/device/test-connection", nil, req, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// JobQuery narrows ListJobs. Zero fields match everything.
type JobQuery struct {
	ID     string
	Queue  string
	Status string
	Node   string
	Host   string
}

// ListJobs returns the jobs matching the query.
func (c *Client) ListJobs(ctx context.Context, q JobQuery) ([]api.JobInResponse, error) {
	values := url.Values{}
	setNonEmpty(values, "id", q.ID)
	setNonEmpty(values, "queue", q.Queue)
	setNonEmpty(values, "status", q.Status)
	setNonEmpty(values, "node", q.Node)
	setNonEmpty(values, "host", q.Host)

	var jobs []api.JobInResponse
	if err := c.do(ctx, http.MethodGet, "/job", values, nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// GetJob fetches one job by id.
func (c *Client) GetJob(ctx context.Context, id string) (*api.JobInResponse, error) {
	jobs, err := c.ListJobs(ctx, JobQuery{ID: id})
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("job %s not found", id)
	}
	return &jobs[0], nil
}

// CancelQuery selects queued jobs to cancel.
type CancelQuery struct {
	IDs   []string
	Queue string
	Host  string
}

// CancelJobs cancels queued jobs and returns the ids actually canceled.
func (c *Client) CancelJobs(ctx context.Context, q CancelQuery) ([]string, error) {
	values := url.Values{}
	for _, id := range q.IDs {
		values.Add("id", id)
	}
	setNonEmpty(values, "queue", q.Queue)
	setNonEmpty(values, "host", q.Host)

	var canceled []string
	if err := c.do(ctx, http.MethodDelete, "/job", values, nil, &canceled); err != nil {
		return nil, err
	}
	return canceled, nil
}

// WorkerQuery narrows ListWorkers. Zero fields match everything.
type WorkerQuery struct {
	Queue string
	Node  string
	Host  string
}

// ListWorkers returns registered workers matching the query.
func (c *Client) ListWorkers(ctx context.Context, q WorkerQuery) ([]api.WorkerInResponse, error) {
	values := url.Values{}
	setNonEmpty(values, "queue", q.Queue)
	setNonEmpty(values, "node", q.Node)
	setNonEmpty(values, "host", q.Host)

	var workers []api.WorkerInResponse
	if err := c.do(ctx, http.MethodGet, "/worker", values, nil, &workers); err != nil {
		return nil, err
	}
	return workers, nil
}

// KillWorkers sends shutdowns to one worker by name or a whole queue,
// returning the names addressed.
func (c *Client) KillWorkers(ctx context.Context, name, queue string) ([]string, error) {
	values := url.Values{}
	setNonEmpty(values, "name", name)
	setNonEmpty(values, "queue", queue)

	var killed []string
	if err := c.do(ctx, http.MethodDelete, "/worker", values, nil, &killed); err != nil {
		return nil, err
	}
	return killed, nil
}

// Health checks the controller and its store.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil, nil)
}

// Render runs a renderer plugin on the controller. An empty plugin name
// uses the controller default.
func (c *Client) Render(ctx context.Context, plugin string, req api.TemplateRenderRequest) (string, error) {
	path := "/template/render"
	if plugin != "" {
		path += "/" + url.PathEscape(plugin)
	}
	var rendered string
	if err := c.do(ctx, http.MethodPost, path, nil, req, &rendered); err != nil {
		return "", err
	}
	return rendered, nil
}

// Parse runs a parser plugin on the controller. An empty plugin name
// uses the controller default.
func (c *Client) Parse(ctx context.Context, plugin string, req api.TemplateParseRequest) (any, error) {
	path := "/template/parse"
	if plugin != "" {
		path += "/" + url.PathEscape(plugin)
	}
	var parsed any
	if err := c.do(ctx, http.MethodPost, path, nil, req, &parsed); err != nil {
		return nil, err
	}
	return parsed, nil
}

func setNonEmpty(values url.Values, key, value string) {
	if value != "" {
		values.Set(key, value)
	}
}
