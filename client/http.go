package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"Press3/internal/blob"
	"Press3/internal/ledger"
)

// apiError is the JSON error body returned by the node.
type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// errUnavailable marks a node-side 503.
var errUnavailable = errors.New("node unavailable")

// do performs a request and decodes a JSON response into result.
// body is sent as JSON unless it is a []byte, which is sent raw.
// notFound is wrapped when the node answers not_found.
func (c *Client) do(ctx context.Context, method, path string, body, result any, notFound error) error {
	var (
		reader      io.Reader
		contentType string
	)

	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
		contentType = "application/octet-stream"
	default:
		jsonBytes, err := json.Marshal(b)
		if err != nil {
			return fmt.Errorf("marshal body:\n%w", err)
		}

		reader = bytes.NewReader(jsonBytes)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request:\n%w", err)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s:\n%w", method, path, err)
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return decodeError(method, path, resp, notFound)
	}

	if raw, ok := result.(*[]byte); ok {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read body:\n%w", err)
		}

		*raw = data

		return nil
	}

	if result == nil {
		return nil
	}

	return json.NewDecoder(resp.Body).Decode(result)
}

// decodeError maps an error response to the package sentinels.
func decodeError(method, path string, resp *http.Response, notFound error) error {
	var body apiError
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		body.Error = http.StatusText(resp.StatusCode)
	}

	var sentinel error

	switch body.Code {
	case "rejected":
		sentinel = ledger.ErrRejected
	case "not_found":
		sentinel = notFound
	case "not_registered":
		sentinel = blob.ErrNotRegistered
	case "unavailable":
		sentinel = errUnavailable
	}

	if sentinel == nil {
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, body.Error)
	}

	return fmt.Errorf("%s %s: %w: %s", method, path, sentinel, body.Error)
}
