package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/yungbote/pathsync/internal/types"
)

// Build-job control endpoints. The job itself is a server-owned
// resource; these calls only create, observe, and cancel it.

func (c *Client) CreateBuildJob(ctx context.Context, pathID string) (types.BuildJob, error) {
	var out types.BuildJob
	err := c.do(ctx, http.MethodPost, "/build-jobs", nil, types.CreateBuildJobRequest{PathID: pathID}, &out)
	return out, err
}

func (c *Client) JobsByPath(ctx context.Context, pathID string) ([]types.BuildJob, error) {
	q := url.Values{}
	q.Set("pathId", pathID)
	var out []types.BuildJob
	err := c.do(ctx, http.MethodGet, "/build-jobs", q, nil, &out)
	return out, err
}

// ActiveJob returns the current non-terminal job for a path, or nil
// when the server reports none.
func (c *Client) ActiveJob(ctx context.Context, pathID string) (*types.BuildJob, error) {
	q := url.Values{}
	q.Set("pathId", pathID)
	var out *types.BuildJob
	err := c.do(ctx, http.MethodGet, "/build-jobs/active", q, nil, &out)
	return out, err
}

func (c *Client) JobProgress(ctx context.Context, jobID string) (types.JobProgressResponse, error) {
	var out types.JobProgressResponse
	err := c.do(ctx, http.MethodGet, "/build-jobs/"+jobID+"/progress", nil, nil, &out)
	return out, err
}

// CancelBuildJob asks the server to cancel. The caller must not apply a
// terminal state until the server confirms, either through this
// response or a subsequent stream event.
func (c *Client) CancelBuildJob(ctx context.Context, jobID string) (types.BuildJob, error) {
	var out types.BuildJob
	err := c.do(ctx, http.MethodPost, "/build-jobs/"+jobID+"/cancel", nil, nil, &out)
	return out, err
}
