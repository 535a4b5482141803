// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package reviewlite

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/Darsh1153/trialbyte-v3-sub002/reviewq"
)

const maxErrorBodyBytes = 64 * 1024

// call sends one request and decodes a 2xx JSON body into out (when non-nil).
// body may be nil, []byte (sent as is) or any JSON-marshalable value.
func (c *Client) call(ctx context.Context, sess Session, method, path string, body any, out any, headers map[string]string) error {
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		rdr = bytes.NewReader(b)
	case json.RawMessage:
		rdr = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return fmt.Errorf("failed to marshal %s %s body: %w", method, path, err)
		}
		rdr = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if rdr != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	if sess.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+sess.Token)
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return classifyTransport(method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if ctx.Err() != nil {
			return classifyTransport(method, path, ctx.Err())
		}
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

// readAPIError extracts error/message from a structured body. Anything else
// becomes a bare status error.
func readAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if err != nil || len(data) == 0 {
		return apiErr
	}
	var er reviewq.ErrorResponse
	if json.Unmarshal(data, &er) == nil {
		apiErr.Code = er.Error
		apiErr.Message = er.Message
	}
	return apiErr
}
