package execute

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultURL     = "https://emkc.org/api/v2/piston/execute"
	DefaultTimeout = 30 * time.Second
	noOutput       = "No output"
)

var (
	ErrLanguageRequired = errors.New("Error: Language is required")
	ErrCodeRequired     = errors.New("Error: Code is required")
	ErrTimeout          = errors.New("Execution timed out")
	ErrUnavailable      = errors.New("Server error: Unable to execute code")
)

// UpstreamError is a non-2xx answer from the sandbox.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	return e.Message
}

type Request struct {
	Language string `json:"language"`
	Code     string `json:"code"`
	Stdin    string `json:"stdin"`
}

type Result struct {
	Output  string `json:"output"`
	IsError bool   `json:"isError"`
}

type pistonFile struct {
	Content string `json:"content"`
}

type pistonRequest struct {
	Language string       `json:"language"`
	Version  string       `json:"version"`
	Files    []pistonFile `json:"files"`
	Stdin    string       `json:"stdin,omitempty"`
}

type pistonStage struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
	Code   *int   `json:"code"`
}

type pistonResponse struct {
	Run     pistonStage  `json:"run"`
	Compile *pistonStage `json:"compile,omitempty"`
	Message string       `json:"message,omitempty"`
}

// Client proxies execution requests to a Piston sandbox.
type Client struct {
	url  string
	http *http.Client
}

func NewClient(url string, timeout time.Duration) *Client {
	if url == "" {
		url = DefaultURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		url:  url,
		http: &http.Client{Timeout: timeout},
	}
}

func (r Request) validate() error {
	if strings.TrimSpace(r.Language) == "" {
		return ErrLanguageRequired
	}
	if strings.TrimSpace(r.Code) == "" {
		return ErrCodeRequired
	}
	return nil
}

// Execute runs the request in the sandbox. Validation failures return
// ErrLanguageRequired or ErrCodeRequired, a timeout returns ErrTimeout and
// a sandbox rejection returns *UpstreamError.
func (c *Client) Execute(ctx context.Context, req Request) (Result, error) {
	if err := req.validate(); err != nil {
		return Result{}, err
	}

	body, err := json.Marshal(pistonRequest{
		Language: NormalizeLanguage(req.Language),
		Version:  "*",
		Files:    []pistonFile{{Content: req.Code}},
		Stdin:    req.Stdin,
	})
	if err != nil {
		return Result{}, fmt.Errorf("encode piston request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return Result{}, ErrTimeout
		}
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		if isTimeout(err) {
			return Result{}, ErrTimeout
		}
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var parsed pistonResponse
	decodeErr := json.Unmarshal(raw, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := parsed.Message
		if decodeErr != nil || msg == "" {
			msg = "Execution failed"
		}
		return Result{}, &UpstreamError{Status: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return Result{}, fmt.Errorf("%w: decode piston response: %v", ErrUnavailable, decodeErr)
	}

	return interpret(parsed), nil
}

// Stderr, a failed compile step or a non-zero exit mark the run as an error.
func interpret(resp pistonResponse) Result {
	if resp.Compile != nil && failed(*resp.Compile) {
		return Result{Output: orNoOutput(firstNonEmpty(resp.Compile.Stderr, resp.Compile.Stdout)), IsError: true}
	}

	run := resp.Run
	if strings.TrimSpace(run.Stderr) != "" {
		return Result{Output: run.Stderr, IsError: true}
	}
	if run.Code != nil && *run.Code != 0 {
		return Result{Output: orNoOutput(run.Stdout), IsError: true}
	}
	return Result{Output: orNoOutput(run.Stdout)}
}

func failed(stage pistonStage) bool {
	return strings.TrimSpace(stage.Stderr) != "" || (stage.Code != nil && *stage.Code != 0)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func orNoOutput(s string) string {
	if s == "" {
		return noOutput
	}
	return s
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
