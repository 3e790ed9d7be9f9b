package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-dispatch/core"
	goerrors "github.com/goliatone/go-errors"
)

const defaultHTTPClientTimeout = 30 * time.Second
const defaultResponseBodyLimit int64 = 10 << 20

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPClient runs tasks through a remote internal execute endpoint.
type HTTPClient struct {
	URL                  string
	Token                string
	Client               HTTPDoer
	MaxResponseBodyBytes int64
}

func NewHTTPClient(cfg core.ExecutorConfig, client HTTPDoer) *HTTPClient {
	if client == nil {
		timeout := cfg.Timeout()
		if timeout <= 0 {
			timeout = defaultHTTPClientTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPClient{
		URL:                  strings.TrimSpace(cfg.URL),
		Token:                strings.TrimSpace(cfg.Token),
		Client:               client,
		MaxResponseBodyBytes: defaultResponseBodyLimit,
	}
}

func (c *HTTPClient) Execute(ctx context.Context, task core.Task) (core.ExecutionResult, error) {
	if c == nil || c.Client == nil {
		return core.ExecutionResult{}, core.NewError(
			"executor: http client is not configured",
			goerrors.CategoryInternal,
			http.StatusInternalServerError,
			core.ErrorInternal,
			nil,
		)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	target, err := url.Parse(c.URL)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return core.ExecutionResult{}, core.WrapError(
			err,
			goerrors.CategoryBadInput,
			"executor: invalid execute url",
			http.StatusInternalServerError,
			core.ErrorInternal,
			map[string]any{"url": c.URL},
		)
	}
	body, err := task.Marshal()
	if err != nil {
		return core.ExecutionResult{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		return core.ExecutionResult{}, core.WrapError(err, goerrors.CategoryInternal, "executor: create execute request", http.StatusInternalServerError, core.ErrorInternal, nil)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.Token)
	}
	httpReq.Header.Set("X-Trace-Id", task.TraceID)

	httpRes, err := c.Client.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return core.ExecutionResult{}, ctxErr
		}
		return core.ExecutionResult{}, core.WrapError(
			err,
			goerrors.CategoryExternal,
			"executor: execute request failed",
			http.StatusBadGateway,
			core.ErrorOperationFailed,
			map[string]any{"url": target.String()},
		)
	}
	defer httpRes.Body.Close()

	limit := c.MaxResponseBodyBytes
	if limit <= 0 {
		limit = defaultResponseBodyLimit
	}
	data, err := io.ReadAll(io.LimitReader(httpRes.Body, limit+1))
	if err != nil {
		return core.ExecutionResult{}, core.WrapError(err, goerrors.CategoryExternal, "executor: read execute response", http.StatusBadGateway, core.ErrorOperationFailed, nil)
	}
	if int64(len(data)) > limit {
		return core.ExecutionResult{}, core.NewError(
			fmt.Sprintf("executor: execute response exceeds limit of %d bytes", limit),
			goerrors.CategoryExternal,
			http.StatusBadGateway,
			core.ErrorOperationFailed,
			nil,
		)
	}

	if httpRes.StatusCode >= 200 && httpRes.StatusCode < 300 {
		return DecodeResult(data)
	}
	var envelope core.ErrorEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil || strings.TrimSpace(envelope.Code) == "" {
		envelope = core.ErrorEnvelope{
			Code:    core.HandlerErrorCode,
			Message: strings.TrimSpace(string(data)),
		}
	}
	return core.ExecutionResult{}, core.FromEnvelope(envelope, httpRes.StatusCode)
}

var _ core.Executor = (*HTTPClient)(nil)
