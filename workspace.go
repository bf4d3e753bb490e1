package sdk

import (
	"context"
	"net/http"

	"github.com/mixlab/mixlab/sdk/go/routes"
)

// Workspace mirrors GET /workspace.
type Workspace struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
}

// Member is one user of a workspace.
type Member struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FullName  string `json:"full_name"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
}

// WorkspaceClient wraps the workspace endpoints.
type WorkspaceClient struct {
	client *Client
}

// Get returns the caller's workspace.
func (w *WorkspaceClient) Get(ctx context.Context) (Workspace, error) {
	var out Workspace
	if err := w.client.DoJSON(ctx, Request{Method: http.MethodGet, Path: routes.Workspace}, &out); err != nil {
		return Workspace{}, err
	}
	return out, nil
}

// Members lists the users of the caller's workspace.
func (w *WorkspaceClient) Members(ctx context.Context) ([]Member, error) {
	var out []Member
	if err := w.client.DoJSON(ctx, Request{Method: http.MethodGet, Path: routes.WorkspaceMembers}, &out); err != nil {
		return nil, err
	}
	return out, nil
}
