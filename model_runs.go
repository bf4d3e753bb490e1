package sdk

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/mixlab/mixlab/sdk/go/routes"
)

// ModelRun mirrors the API's model run representation.
type ModelRun struct {
	ID           string         `json:"id"`
	WorkspaceID  string         `json:"workspace_id"`
	DatasetID    string         `json:"dataset_id"`
	Name         string         `json:"name"`
	Status       string         `json:"status"`
	Progress     int            `json:"progress"`
	Config       map[string]any `json:"config"`
	Results      map[string]any `json:"results"`
	ErrorMessage *string        `json:"error_message"`
	StartedAt    *string        `json:"started_at"`
	CompletedAt  *string        `json:"completed_at"`
	CreatedAt    string         `json:"created_at"`
}

// ModelsClient wraps the model run endpoints.
type ModelsClient struct {
	client *Client
}

// List returns the model runs of the caller's workspace.
func (m *ModelsClient) List(ctx context.Context) ([]ModelRun, error) {
	var out []ModelRun
	if err := m.client.DoJSON(ctx, Request{Method: http.MethodGet, Path: routes.Models}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns one model run.
func (m *ModelsClient) Get(ctx context.Context, id string) (ModelRun, error) {
	if strings.TrimSpace(id) == "" {
		return ModelRun{}, fmt.Errorf("sdk: model run id required")
	}
	var out ModelRun
	if err := m.client.DoJSON(ctx, Request{Method: http.MethodGet, Path: routes.ModelByID(id)}, &out); err != nil {
		return ModelRun{}, err
	}
	return out, nil
}

// Delete removes a model run.
func (m *ModelsClient) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("sdk: model run id required")
	}
	return m.client.DoJSON(ctx, Request{Method: http.MethodDelete, Path: routes.ModelByID(id)}, nil)
}
