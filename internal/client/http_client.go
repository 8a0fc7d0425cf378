package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
)

const (
	maxBodyBytes  = 1 << 20
	maxMediaBytes = 8 << 20
)

type Options struct {
	Timeout time.Duration
	// BreakerThreshold enables a circuit breaker that opens after this many
	// consecutive 5xx or transport failures. Zero disables it.
	BreakerThreshold uint
	BreakerDelay     time.Duration
}

// HTTPClient performs platform API calls. It reports status and body and
// leaves their interpretation to the adapter.
type HTTPClient struct {
	name     string
	client   *http.Client
	executor failsafe.Executor[*http.Response]
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

func (r *Response) DecodeJSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode json: %w body=%q", err, truncate(r.Body))
	}
	return nil
}

func NewHTTPClient(name string, opts Options) *HTTPClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	c := &HTTPClient{
		name: name,
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: defaultTransport(),
		},
	}
	if opts.BreakerThreshold > 0 {
		delay := opts.BreakerDelay
		if delay <= 0 {
			delay = 30 * time.Second
		}
		breaker := circuitbreaker.NewBuilder[*http.Response]().
			HandleIf(func(resp *http.Response, err error) bool {
				return err != nil || (resp != nil && resp.StatusCode >= 500)
			}).
			WithFailureThreshold(opts.BreakerThreshold).
			WithDelay(delay).
			Build()
		c.executor = failsafe.With[*http.Response](breaker)
	}
	return c
}

func (c *HTTPClient) Name() string {
	return c.name
}

func (c *HTTPClient) Get(ctx context.Context, rawURL string, headers map[string]string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	setHeaders(req, headers)
	return c.Do(req)
}

func (c *HTTPClient) PostJSON(ctx context.Context, rawURL string, headers map[string]string, body any) (*Response, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	setHeaders(req, headers)
	return c.Do(req)
}

func (c *HTTPClient) PostForm(ctx context.Context, rawURL string, headers map[string]string, form url.Values) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	setHeaders(req, headers)
	return c.Do(req)
}

// PostMultipart uploads one file part alongside plain form fields.
func (c *HTTPClient) PostMultipart(ctx context.Context, rawURL string, headers, fields map[string]string, fileField, fileName string, data []byte) (*Response, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	fw, err := mw.CreateFormFile(fileField, fileName)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	setHeaders(req, headers)
	return c.Do(req)
}

// Fetch downloads a media file. Unlike Do, a non-2xx status is an error.
func (c *HTTPClient) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req, maxMediaBytes+1)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, fmt.Errorf("fetch %s: unexpected status code: %d", rawURL, resp.StatusCode)
	}
	if len(resp.Body) > maxMediaBytes {
		return nil, fmt.Errorf("fetch %s: media exceeds %d bytes", rawURL, maxMediaBytes)
	}
	return resp.Body, nil
}

// Do sends req and reads the whole body. A non-2xx status is not an error.
func (c *HTTPClient) Do(req *http.Request) (*Response, error) {
	return c.do(req, maxBodyBytes)
}

func (c *HTTPClient) do(req *http.Request, limit int64) (*Response, error) {
	var (
		resp *http.Response
		err  error
	)
	if c.executor != nil {
		resp, err = c.executor.WithContext(req.Context()).Get(func() (*http.Response, error) {
			return c.client.Do(req)
		})
	} else {
		resp, err = c.client.Do(req)
	}
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func setHeaders(req *http.Request, headers map[string]string) {
	for k, v := range headers {
		req.Header.Set(k, v)
	}
}

func defaultTransport() *http.Transport {
	return &http.Transport{
		MaxConnsPerHost:     20,
		MaxIdleConnsPerHost: 4,
		MaxIdleConns:        50,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

func truncate(b []byte) string {
	n := 200
	if len(b) <= n {
		return string(b)
	}
	for n > 0 && !utf8.RuneStart(b[n]) {
		n--
	}
	return string(b[:n]) + "..."
}
