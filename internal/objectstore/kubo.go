package objectstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// KuboBackend talks to the RPC API of a kubo (go-ipfs) daemon.
type KuboBackend struct {
	base string
	http *http.Client
}

// NewKuboBackend returns a backend for the daemon at apiURL, e.g.
// http://127.0.0.1:5001. Requests without a deadline time out after timeout.
func NewKuboBackend(apiURL string, timeout time.Duration) *KuboBackend {
	return &KuboBackend{
		base: strings.TrimRight(apiURL, "/") + "/api/v0/",
		http: &http.Client{Timeout: timeout},
	}
}

type kuboError struct {
	Message string `json:"Message"`
	Code    int    `json:"Code"`
}

func (k *KuboBackend) call(ctx context.Context, cmd string, args url.Values, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.base+cmd+"?"+args.Encode(), body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := k.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kubo %s: %w", cmd, err)
	}
	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}
	defer resp.Body.Close()

	var ke kuboError
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(data, &ke) != nil || ke.Message == "" {
		ke.Message = strings.TrimSpace(string(data))
	}
	msg := strings.ToLower(ke.Message)
	switch {
	case strings.Contains(msg, "not pinned"):
		return nil, fmt.Errorf("%w: %s", ErrNotPinned, ke.Message)
	case strings.Contains(msg, "not found"), strings.Contains(msg, "no link named"):
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ke.Message)
	case strings.Contains(msg, "invalid") && strings.Contains(msg, "cid"):
		return nil, fmt.Errorf("%w: %s", ErrInvalidCID, ke.Message)
	}
	return nil, fmt.Errorf("kubo %s: status %d: %s", cmd, resp.StatusCode, ke.Message)
}

func (k *KuboBackend) Add(ctx context.Context, r io.Reader) (string, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", "blob")
		if err == nil {
			_, err = io.Copy(part, r)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	args := url.Values{"pin": {"true"}, "cid-version": {"1"}, "quieter": {"true"}}
	resp, err := k.call(ctx, "add", args, pr, mw.FormDataContentType())
	if err != nil {
		pr.CloseWithError(err)
		return "", err
	}
	defer resp.Body.Close()

	var out struct {
		Hash string `json:"Hash"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("kubo add: decode: %w", err)
	}
	if out.Hash == "" {
		return "", fmt.Errorf("kubo add: empty hash")
	}
	return out.Hash, nil
}

func (k *KuboBackend) Cat(ctx context.Context, cid string) (io.ReadCloser, error) {
	resp, err := k.call(ctx, "cat", url.Values{"arg": {cid}}, nil, "")
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (k *KuboBackend) Pin(ctx context.Context, cid string) error {
	resp, err := k.call(ctx, "pin/add", url.Values{"arg": {cid}}, nil, "")
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

func (k *KuboBackend) Unpin(ctx context.Context, cid string) error {
	resp, err := k.call(ctx, "pin/rm", url.Values{"arg": {cid}}, nil, "")
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

func (k *KuboBackend) Pinned(ctx context.Context, cid string) (bool, error) {
	resp, err := k.call(ctx, "pin/ls", url.Values{"arg": {cid}, "type": {"recursive"}}, nil, "")
	if err != nil {
		if errors.Is(err, ErrNotPinned) || errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	defer resp.Body.Close()

	var out struct {
		Keys map[string]json.RawMessage `json:"Keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("kubo pin/ls: decode: %w", err)
	}
	return len(out.Keys) > 0, nil
}
