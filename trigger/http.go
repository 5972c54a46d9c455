package trigger

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPCaller sends trigger requests. Params are always sent as a
// form-encoded body, whatever the method, and the target URL is used as given.
type HTTPCaller struct {
	httpClient *http.Client
}

func NewHTTPCaller(timeout time.Duration) *HTTPCaller {
	return &HTTPCaller{httpClient: &http.Client{Timeout: timeout}}
}

func (c *HTTPCaller) Call(ctx context.Context, method, target string, headers, params map[string]string) error {
	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}
