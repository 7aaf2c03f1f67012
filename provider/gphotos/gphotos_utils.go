package gphotos

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/zlnvch/storystack/provider"
)

const maxResponseBytes = 64 << 20

type googleErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// classifyStatus maps a non-2xx provider response to one of the sentinel
// errors the service layer understands. FAILED_PRECONDITION is how the
// Picker API reports "the user has not finished selecting".
func classifyStatus(statusCode int, body []byte) error {
	var errBody googleErrorBody
	_ = json.Unmarshal(body, &errBody)
	status := errBody.Error.Status

	switch {
	case status == "FAILED_PRECONDITION":
		return provider.ErrPendingUserAction
	case statusCode == http.StatusUnauthorized || status == "UNAUTHENTICATED":
		return provider.ErrUnauthorized
	case statusCode == http.StatusForbidden || status == "PERMISSION_DENIED":
		return provider.ErrInsufficientScope
	case statusCode == http.StatusNotFound || status == "NOT_FOUND":
		// Picker sessions are garbage collected upstream after a few
		// minutes; a vanished session reads as expired to the caller.
		return provider.ErrSessionExpired
	}

	msg := errBody.Error.Message
	if msg == "" {
		msg = string(body)
	}
	return fmt.Errorf("provider returned %d: %s", statusCode, msg)
}

func (p *GPhotosProvider) doJSON(ctx context.Context, method string, u string, accessToken string, reqBody []byte) ([]byte, error) {
	var bodyReader io.Reader
	if reqBody != nil {
		bodyReader = bytes.NewReader(reqBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classifyStatus(resp.StatusCode, body)
	}

	return body, nil
}

func (p *GPhotosProvider) fetchRaw(ctx context.Context, u string, accessToken string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("download returned %d", resp.StatusCode)
	}

	return readBody(resp)
}

func readBody(resp *http.Response) ([]byte, error) {
	return io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
}
