package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mixlab/mixlab/sdk/go/headers"
	"github.com/mixlab/mixlab/sdk/go/routes"
)

// Request is a re-invokable description of one API call. The body is held as
// bytes so the call can be replayed after a session renewal.
type Request struct {
	Method      string
	Path        string
	Query       url.Values
	Header      http.Header
	Body        []byte
	ContentType string
}

// JSONRequest encodes payload (when non-nil) as the JSON body of a Request.
func JSONRequest(method, path string, payload any) (Request, error) {
	r := Request{Method: method, Path: path}
	if payload == nil {
		return r, nil
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return Request{}, fmt.Errorf("sdk: encode request: %w", err)
	}
	r.Body = encoded
	r.ContentType = "application/json"
	return r, nil
}

// MultipartFile is one file part of a multipart request.
type MultipartFile struct {
	Field       string
	FileName    string
	ContentType string
	Content     io.Reader
}

// MultipartRequest buffers fields and files into a multipart/form-data Request.
func MultipartRequest(method, path string, fields map[string]string, files ...MultipartFile) (Request, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, value := range fields {
		if err := mw.WriteField(name, value); err != nil {
			return Request{}, fmt.Errorf("sdk: write multipart field %q: %w", name, err)
		}
	}
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.Field, f.FileName))
		ct := f.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)
		part, err := mw.CreatePart(h)
		if err != nil {
			return Request{}, fmt.Errorf("sdk: create multipart part %q: %w", f.Field, err)
		}
		if _, err := io.Copy(part, f.Content); err != nil {
			return Request{}, fmt.Errorf("sdk: copy multipart part %q: %w", f.Field, err)
		}
	}
	if err := mw.Close(); err != nil {
		return Request{}, fmt.Errorf("sdk: close multipart body: %w", err)
	}
	return Request{
		Method:      method,
		Path:        path,
		Body:        buf.Bytes(),
		ContentType: mw.FormDataContentType(),
	}, nil
}

// Do sends r with the session's current access token.
//
// A 401 on any route other than login, register and refresh is handed to the
// refresh coordinator and the request is replayed once with the renewed
// token. A second 401, and every other error status, is returned as APIError.
func (c *Client) Do(ctx context.Context, r Request) (*http.Response, error) {
	if r.Method == "" {
		r.Method = http.MethodGet
	}
	requestID := uuid.NewString()
	route := c.routePath(r.Path)
	exempt := routes.IsAuthExempt(route)

	retried := false
	for {
		token := c.session.AccessToken()
		req, err := c.newHTTPRequest(ctx, r, requestID)
		if err != nil {
			return nil, err
		}
		bearerAuth{token: token}.Apply(req)

		resp, err := c.send(req, route)
		if err == nil {
			return resp, nil
		}
		if exempt || retried || !IsUnauthorized(err) {
			return nil, err
		}
		retried = true
		c.telemetry.log(ctx, LogLevelDebug, "http_unauthorized_renewing", map[string]any{
			"path":       r.Path,
			"request_id": requestID,
		})
		if _, rerr := c.coordinator.Renew(ctx, token); rerr != nil {
			if errors.Is(rerr, ErrNoRefreshToken) {
				return nil, fmt.Errorf("%w: %w", ErrNoRefreshToken, err)
			}
			return nil, rerr
		}
	}
}

// DoJSON sends r and decodes a JSON response body into out (when non-nil).
func (c *Client) DoJSON(ctx context.Context, r Request, out any) error {
	resp, err := c.Do(ctx, r)
	if err != nil {
		return err
	}
	//nolint:errcheck // best-effort cleanup on return
	defer func() { _ = resp.Body.Close() }()
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("sdk: decode response: %w", err)
	}
	return nil
}

func (c *Client) newHTTPRequest(ctx context.Context, r Request, requestID string) (*http.Request, error) {
	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}
	target := c.buildURL(r.Path)
	if len(r.Query) > 0 {
		target += "?" + r.Query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, target, body)
	if err != nil {
		return nil, err
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if r.ContentType != "" {
		req.Header.Set("Content-Type", r.ContentType)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set(headers.RequestID, requestID)
	injectTraceparent(ctx, req)
	return req, nil
}

func (c *Client) send(req *http.Request, route string) (*http.Response, error) {
	if c.telemetry.OnHTTPRequest != nil {
		c.telemetry.OnHTTPRequest(req.Context(), req)
	}
	c.telemetry.log(req.Context(), LogLevelInfo, "http_request", map[string]any{
		"method": req.Method,
		"url":    req.URL.String(),
	})
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if c.telemetry.OnHTTPResponse != nil {
		c.telemetry.OnHTTPResponse(req.Context(), req, resp, err, time.Since(start))
	}
	c.telemetry.metric(req.Context(), "sdk_http_request_latency_ms", float64(time.Since(start).Milliseconds()), map[string]string{
		"route": routes.Template(route),
	})
	if err != nil {
		return nil, TransportError{
			Kind:    classifyTransportErrorKind(err),
			Message: req.Method + " " + req.URL.Path + " failed",
			Cause:   err,
		}
	}
	if resp.StatusCode >= 400 {
		//nolint:errcheck // best-effort cleanup on return
		defer func() { _ = resp.Body.Close() }()
		return nil, decodeAPIError(resp)
	}
	return resp, nil
}

func (c *Client) buildURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

// routePath reduces a request path to the API route it addresses, so that
// "auth/refresh/" and an absolute URL under the base URL are recognized as
// the refresh route.
func (c *Client) routePath(path string) string {
	if strings.HasPrefix(path, c.baseURL+"/") {
		path = strings.TrimPrefix(path, c.baseURL)
	}
	if u, err := url.Parse(path); err == nil {
		path = u.Path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimSuffix(path, "/")
}
