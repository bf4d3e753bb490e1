package sdk

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mixlab/mixlab/sdk/go/routes"
)

// Dataset mirrors the API's dataset representation.
type Dataset struct {
	ID               string         `json:"id"`
	WorkspaceID      string         `json:"workspace_id"`
	Filename         string         `json:"filename"`
	RowCount         *int           `json:"row_count"`
	DateRangeStart   *string        `json:"date_range_start"`
	DateRangeEnd     *string        `json:"date_range_end"`
	Frequency        string         `json:"frequency"`
	ColumnMapping    map[string]any `json:"column_mapping"`
	ValidationReport map[string]any `json:"validation_report"`
	Status           string         `json:"status"`
	CreatedAt        string         `json:"created_at"`
}

// ColumnInfo describes one column of an uploaded file.
type ColumnInfo struct {
	Name         string `json:"name"`
	DType        string `json:"dtype"`
	NullCount    int    `json:"null_count"`
	SampleValues []any  `json:"sample_values"`
}

// UploadResult is returned by POST /datasets/upload.
type UploadResult struct {
	DatasetID   string           `json:"dataset_id"`
	Filename    string           `json:"filename"`
	RowCount    int              `json:"row_count"`
	Columns     []ColumnInfo     `json:"columns"`
	PreviewRows []map[string]any `json:"preview_rows"`
	AutoMapping map[string]any   `json:"auto_mapping,omitempty"`
}

// DatasetsClient wraps the dataset endpoints.
type DatasetsClient struct {
	client *Client
}

// List returns the datasets of the caller's workspace, newest first.
func (d *DatasetsClient) List(ctx context.Context) ([]Dataset, error) {
	var out []Dataset
	if err := d.client.DoJSON(ctx, Request{Method: http.MethodGet, Path: routes.Datasets}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns one dataset.
func (d *DatasetsClient) Get(ctx context.Context, id string) (Dataset, error) {
	if strings.TrimSpace(id) == "" {
		return Dataset{}, fmt.Errorf("sdk: dataset id required")
	}
	var out Dataset
	if err := d.client.DoJSON(ctx, Request{Method: http.MethodGet, Path: routes.DatasetByID(id)}, &out); err != nil {
		return Dataset{}, err
	}
	return out, nil
}

// Upload sends a CSV or Excel file as multipart form data. The file is read
// fully before sending so the upload survives a session renewal.
func (d *DatasetsClient) Upload(ctx context.Context, filename string, content io.Reader) (UploadResult, error) {
	if strings.TrimSpace(filename) == "" {
		return UploadResult{}, fmt.Errorf("sdk: filename required")
	}
	req, err := MultipartRequest(http.MethodPost, routes.DatasetsUpload, nil, MultipartFile{
		Field:       "file",
		FileName:    filename,
		ContentType: uploadContentType(filename),
		Content:     content,
	})
	if err != nil {
		return UploadResult{}, err
	}
	var out UploadResult
	if err := d.client.DoJSON(ctx, req, &out); err != nil {
		return UploadResult{}, err
	}
	return out, nil
}

// Delete removes a dataset.
func (d *DatasetsClient) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("sdk: dataset id required")
	}
	return d.client.DoJSON(ctx, Request{Method: http.MethodDelete, Path: routes.DatasetByID(id)}, nil)
}

func uploadContentType(filename string) string {
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".csv"):
		return "text/csv"
	case strings.HasSuffix(lower, ".xlsx"):
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case strings.HasSuffix(lower, ".xls"):
		return "application/vnd.ms-excel"
	default:
		return "application/octet-stream"
	}
}
