package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/netpulse/netpulse/pkg/driver"
	"github.com/netpulse/netpulse/pkg/errdefs"
	"github.com/netpulse/netpulse/pkg/log"
	"github.com/netpulse/netpulse/pkg/metrics"
	"github.com/netpulse/netpulse/pkg/render"
	"github.com/netpulse/netpulse/pkg/types"
)

// Env carries the pipeline's process-local collaborators. The zero value
// works: sessions are opened per job and templates resolve inline only.
type Env struct {
	// TemplatePaths are the directories searched for file:// template
	// sources.
	TemplatePaths []string

	// Broker supplies and reclaims device sessions. Pinned workers
	// install a caching broker; nil falls back to connect-per-job.
	Broker SessionBroker
}

// Execute runs one job's request through the full pipeline: resolve the
// driver, render templates, normalize the payload, run the device call,
// parse output. Driver faults fold into per-command results so partial
// output survives; render and parse faults fail the job.
//
// The request is mutated in place: after rendering, the payload holds
// the concrete device input and the rendering section is cleared.
func Execute(ctx context.Context, req *types.ExecutionRequest, env Env) (map[string]types.DriverExecutionResult, error) {
	drv, err := driver.New(req)
	if err != nil {
		return nil, err
	}

	if req.Rendering != nil {
		if err := renderRequest(req, env.TemplatePaths); err != nil {
			return nil, err
		}
	}

	lines := req.Payload().Lines()
	if len(lines) == 0 {
		return nil, errdefs.Validationf("payload is empty after rendering")
	}

	results, reused := runDriver(ctx, drv, req, lines, env.broker())

	if req.Parsing != nil {
		if err := parseResults(req, results, env.TemplatePaths); err != nil {
			return results, err
		}
	}

	markReuse(results, reused)
	return results, nil
}

// renderRequest materializes the payload from its template form. A dict
// payload merges into the renderer context and requires an explicit
// template; a string or list payload is itself the inline source, so a
// second source in the rendering section is ambiguous and rejected.
func renderRequest(req *types.ExecutionRequest, searchPaths []string) error {
	spec := req.Rendering
	r, err := render.NewRenderer(spec.Name)
	if err != nil {
		return err
	}

	payload := req.Payload()
	context := make(map[string]any, len(spec.Context))
	for k, v := range spec.Context {
		context[k] = v
	}

	var source string
	if payload.IsDict() {
		if spec.Template == "" {
			return errdefs.Validationf("object payload requires rendering.template")
		}
		for k, v := range payload.Dict() {
			context[k] = v
		}
		source, err = render.ResolveSource(spec.Template, searchPaths)
		if err != nil {
			return err
		}
	} else {
		if spec.Template != "" {
			return errdefs.Validationf(
				"rendering.template conflicts with inline payload; use an object payload for context")
		}
		source = strings.Join(payload.Lines(), "\n")
	}

	rendered, err := r.Render(source, context)
	if err != nil {
		return err
	}

	out := types.StringPayload(rendered)
	if req.IsConfig() {
		req.Config = out
	} else {
		req.Command = out
	}
	req.Rendering = nil

	// A driver-side script template travels through the same context.
	if script, ok := req.DriverArgs["script_content"].(string); ok && script != "" {
		renderedScript, err := r.Render(script, context)
		if err != nil {
			return fmt.Errorf("script_content: %w", err)
		}
		req.DriverArgs["script_content"] = renderedScript
	}
	return nil
}

// runDriver owns the connect/call/disconnect bracket. Any fault is
// captured as a per-command result with exit status one rather than
// re-raised, so the caller always receives one entry per command (or
// one entry for the joined config block).
func runDriver(ctx context.Context, drv driver.Driver, req *types.ExecutionRequest, lines []string, broker SessionBroker) (map[string]types.DriverExecutionResult, bool) {
	host := req.Host()
	start := time.Now()

	sess, reused, err := broker.Acquire(ctx, drv, req.ConnectionArgs)
	if err != nil {
		return faultResults(req, lines, host, err, time.Since(start)), false
	}

	var results map[string]types.DriverExecutionResult
	if req.IsConfig() {
		results, err = drv.Config(ctx, sess, lines)
	} else {
		results, err = drv.Send(ctx, sess, lines)
	}
	broker.Release(drv, sess, err != nil)

	if err != nil {
		return faultResults(req, lines, host, err, time.Since(start)), reused
	}
	return results, reused
}

// faultResults expands one connect or call fault into the per-command
// result shape the caller expects.
func faultResults(req *types.ExecutionRequest, lines []string, host string, err error, elapsed time.Duration) map[string]types.DriverExecutionResult {
	logger := log.WithHost(host)
	logger.Warn().Err(err).Str("driver", req.Driver).Msg("driver call failed")
	metrics.DriverErrorsTotal.WithLabelValues(req.Driver).Inc()
	keys := lines
	if req.IsConfig() {
		keys = []string{strings.Join(lines, "\n")}
	}
	results := make(map[string]types.DriverExecutionResult, len(keys))
	for _, key := range keys {
		results[key] = types.DriverExecutionResult{
			Error:      err.Error(),
			ExitStatus: 1,
			Telemetry: map[string]any{
				types.TelemetryHost:     host,
				types.TelemetryDuration: elapsed.Seconds(),
			},
		}
	}
	return results
}

// parseResults applies the named parser to each successful command's
// output. Output must be text; structured output means the driver
// already parsed, and pointing a text parser at it is a request error.
func parseResults(req *types.ExecutionRequest, results map[string]types.DriverExecutionResult, searchPaths []string) error {
	source, err := render.ResolveSource(req.Parsing.Template, searchPaths)
	if err != nil {
		return err
	}
	p, err := render.NewParser(req.Parsing.Name, source)
	if err != nil {
		return err
	}
	for key, res := range results {
		if res.ExitStatus != 0 || res.Output == nil {
			continue
		}
		text, ok := res.Output.(string)
		if !ok {
			return errdefs.Validationf("parsing: output of %q is not text (driver %s returns structured output)",
				key, req.Driver)
		}
		parsed, err := p.Parse(text)
		if err != nil {
			return fmt.Errorf("parsing %q: %w", key, err)
		}
		res.Parsed = parsed
		results[key] = res
	}
	return nil
}

// markReuse stamps the session-reuse telemetry on every result entry.
func markReuse(results map[string]types.DriverExecutionResult, reused bool) {
	for key, res := range results {
		if res.Telemetry == nil {
			res.Telemetry = make(map[string]any, 1)
		}
		res.Telemetry[types.TelemetrySessionReused] = reused
		results[key] = res
	}
}
