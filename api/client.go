// Package api implements the client for the starvectord HTTP API.
//
// The same types are used by the server in [github.com/vectorink/starvectord/server]
// so the wire format is defined in exactly one place.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"runtime"

	"github.com/vectorink/starvectord/version"
)

type Client struct {
	base *url.URL
	http *http.Client
}

// NewClient returns a client for a starvectord server reachable at host,
// given as "host:port". The http client is optional; pass nil for
// http.DefaultClient. Generation can take minutes on CPU so callers should
// not wrap requests in short timeouts.
func NewClient(host string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		base: &url.URL{Scheme: "http", Host: host},
		http: httpClient,
	}
}

func (c *Client) do(ctx context.Context, method, path string, reqData, respData any) error {
	var reqBody io.Reader
	if reqData != nil {
		data, err := json.Marshal(reqData)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.base.JoinPath(path).String(), reqBody)
	if err != nil {
		return err
	}

	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")
	request.Header.Set("User-Agent", fmt.Sprintf("starvectord/%s (%s %s) Go/%s", version.Version, runtime.GOARCH, runtime.GOOS, runtime.Version()))

	response, err := c.http.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	respBody, err := io.ReadAll(response.Body)
	if err != nil {
		return err
	}

	if err := checkError(response.StatusCode, respBody); err != nil {
		return err
	}

	if respData != nil {
		return json.Unmarshal(respBody, respData)
	}

	return nil
}

// Health reports whether the server has finished loading its checkpoint.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Info returns the model and device the server was started with.
func (c *Client) Info(ctx context.Context) (*InfoResponse, error) {
	var resp InfoResponse
	if err := c.do(ctx, http.MethodGet, "/info", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Generate converts the base64-encoded image in req to SVG markup. The call
// blocks for the full generation, typically 30 seconds to several minutes on
// CPU.
func (c *Client) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	var resp GenerateResponse
	if err := c.do(ctx, http.MethodPost, "/generate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
