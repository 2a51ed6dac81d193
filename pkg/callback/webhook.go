package callback

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/netpulse/netpulse/pkg/errdefs"
	"github.com/netpulse/netpulse/pkg/log"
	"github.com/netpulse/netpulse/pkg/metrics"
	"github.com/netpulse/netpulse/pkg/types"
)

const defaultWebhookTimeout = 5 * time.Second

// webhookBody is the delivery payload. Result carries the per-command
// result map on success and the normalized error tuple on failure.
type webhookBody struct {
	ID      string          `json:"id"`
	Result  any             `json:"result"`
	Status  types.JobStatus `json:"status"`
	Driver  string          `json:"driver"`
	Device  string          `json:"device"`
	Command string          `json:"command"`
}

// WebhookCallback delivers a job's terminal state to the endpoint named in
// the request's webhook spec. On the failure path the exception callback
// runs first so the delivered error tuple matches the persisted job meta.
// Files staged for the request are removed after delivery either way.
func WebhookCallback(ctx context.Context, inv Invocation) error {
	job := inv.Job
	if job == nil || job.Request == nil || job.Request.Webhook == nil {
		return errdefs.Validationf("webhook callback on a job without a webhook spec")
	}
	spec := job.Request.Webhook
	defer removeStagedFiles(job.ID, spec.StagedFiles)

	body := webhookBody{
		ID:      job.ID,
		Status:  job.Status,
		Driver:  job.Request.Driver,
		Device:  job.Request.Host(),
		Command: strings.Join(job.Request.Payload().Lines(), "\n"),
	}
	switch {
	case inv.Err != nil:
		if err := ExceptionCallback(ctx, inv); err != nil {
			logger := log.WithJobID(job.ID)
			logger.Warn().Err(err).Msg("failed to record error before webhook delivery")
		}
		body.Status = types.JobStatusFailed
		body.Result = map[string]string{
			"error_type":    job.Meta.ErrorType,
			"error_message": job.Meta.ErrorMessage,
		}
	case inv.Result != nil:
		// The success callback fires just before the finished transition
		// persists, so a still-running status reports as finished.
		if !body.Status.Terminal() {
			body.Status = types.JobStatusFinished
		}
		body.Result = inv.Result.Retval
	case job.Result != nil:
		body.Result = job.Result.Retval
	}

	logger := log.WithJobID(job.ID)
	if err := deliver(ctx, spec, body); err != nil {
		metrics.WebhookDeliveriesTotal.WithLabelValues("failed").Inc()
		logger.Error().Err(err).Str("url", spec.URL).Msg("webhook delivery failed")
		return fmt.Errorf("%w: delivery to %s: %v", errdefs.ErrWebhook, spec.URL, err)
	}
	metrics.WebhookDeliveriesTotal.WithLabelValues("delivered").Inc()
	logger.Debug().Str("url", spec.URL).Str("status", string(body.Status)).Msg("webhook delivered")
	return nil
}

func deliver(ctx context.Context, spec *types.WebhookSpec, body webhookBody) error {
	timeout := defaultWebhookTimeout
	if spec.Timeout > 0 {
		timeout = time.Duration(spec.Timeout) * time.Second
	}
	client := resty.New().SetTimeout(timeout)
	if spec.Auth != nil {
		client.SetBasicAuth(spec.Auth.Username, spec.Auth.Password)
	}
	method := strings.ToUpper(strings.TrimSpace(spec.Method))
	if method == "" {
		method = http.MethodPost
	}
	req := client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeaders(spec.Headers).
		SetBody(body)
	resp, err := req.Execute(method, spec.URL)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("endpoint returned %s", resp.Status())
	}
	return nil
}

// removeStagedFiles deletes temporary artifacts the request staged, for
// example a rendered script written to disk. Best effort; a missing file
// is fine, anything else is logged and skipped.
func removeStagedFiles(jobID string, paths []string) {
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger := log.WithJobID(jobID)
			logger.Warn().Err(err).Str("path", path).Msg("failed to remove staged file")
		}
	}
}
