package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/yungbote/pathsync/internal/pkg/errors"
	"github.com/yungbote/pathsync/internal/types"
)

// JobEventStream is one live server-push connection scoped to a job.
// Events arrives on Events until the stream ends; a transport failure
// is delivered once on Errs. Both channels close when the stream is
// done. Cancel the context to tear the connection down.
type JobEventStream struct {
	JobID  string
	Events <-chan types.JobProgressEvent
	Errs   <-chan error
}

// StreamJobEvents opens the SSE channel for one job. The connection is
// established before returning so callers can fail fast; parsing runs
// in a background goroutine for the lifetime of ctx.
func (c *Client) StreamJobEvents(ctx context.Context, jobID string) (*JobEventStream, error) {
	ctx, span := c.tracer.Start(ctx, "job-events stream",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("job.id", jobID)),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/build-jobs/"+jobID+"/events", nil)
	if err != nil {
		span.End()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	c.authorize(req)

	// The shared client has a unary timeout; streams live until cancel.
	streamClient := &http.Client{Transport: c.http.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		span.End()
		return nil, err
	}
	if resp.StatusCode >= 400 {
		msg := readErrorMessage(resp.Body)
		resp.Body.Close()
		span.End()
		return nil, &apperrors.StatusError{Code: resp.StatusCode, Message: msg}
	}

	events := make(chan types.JobProgressEvent, 16)
	errs := make(chan error, 1)
	log := c.log.With("jobID", jobID)

	go func() {
		defer span.End()
		defer resp.Body.Close()
		defer close(events)
		defer close(errs)

		var data strings.Builder
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case line == "":
				if data.Len() == 0 {
					continue
				}
				payload := data.String()
				data.Reset()
				var ev types.JobProgressEvent
				if err := json.Unmarshal([]byte(payload), &ev); err != nil {
					log.Warn("bad job event payload, skipping", "error", err)
					continue
				}
				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
			case strings.HasPrefix(line, ":"):
				// heartbeat comment
			case strings.HasPrefix(line, "data:"):
				if data.Len() > 0 {
					data.WriteByte('\n')
				}
				data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			case strings.HasPrefix(line, "event:"):
				// single event type on this channel; the payload carries
				// its own discriminator
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			errs <- fmt.Errorf("job event stream: %w", err)
		}
	}()

	return &JobEventStream{JobID: jobID, Events: events, Errs: errs}, nil
}
