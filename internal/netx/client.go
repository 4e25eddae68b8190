// Package netx is a small JSON-over-HTTP client used for node-to-node calls
// and DID resolution. Error responses in the node's envelope format are
// turned back into typed errors.
package netx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/hivenode/internal/common"
)

// Client talks to one base URL.
type Client struct {
	http    *http.Client
	baseURL string
	token   string
}

// NewClient returns a client whose requests time out after timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// WithToken returns a copy that sends "Authorization: token <tok>".
func (c *Client) WithToken(tok string) *Client {
	cp := *c
	cp.token = tok
	return &cp
}

// WithTimeout returns a copy with a different request timeout.
func (c *Client) WithTimeout(d time.Duration) *Client {
	cp := *c
	cp.http = &http.Client{Timeout: d, Transport: c.http.Transport}
	return &cp
}

// RemoteError is a non-2xx response.
type RemoteError struct {
	Status  int
	Message string
	Code    int
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error %d: %s", e.Status, e.Message)
}

// Unwrap exposes the typed equivalent so errors.Is(err, common.ErrorNotFound)
// works across node boundaries.
func (e *RemoteError) Unwrap() error {
	kind := common.KindInternal
	switch e.Status {
	case http.StatusBadRequest:
		kind = common.KindInvalidParameter
	case http.StatusUnauthorized:
		kind = common.KindUnauthorized
	case http.StatusForbidden:
		kind = common.KindForbidden
	case http.StatusNotFound:
		kind = common.KindNotFound
	case 455:
		kind = common.KindAlreadyExists
	case http.StatusNotImplemented:
		kind = common.KindNotImplemented
	case http.StatusInsufficientStorage:
		kind = common.KindInsufficientStorage
	}
	return &common.Error{Kind: kind, Message: e.Message, Code: e.Code}
}

type envelope struct {
	Error struct {
		Message      string `json:"message"`
		InternalCode int    `json:"internal_code"`
	} `json:"error"`
}

// DoJSON sends in (if non-nil) as JSON and decodes a JSON response into out
// (if non-nil).
func (c *Client) DoJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set(common.AuthorizationHeader, "token "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		re := &RemoteError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var env envelope
		if json.Unmarshal(data, &env) == nil && env.Error.Message != "" {
			re.Message = env.Error.Message
			re.Code = env.Error.InternalCode
		}
		return re
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
