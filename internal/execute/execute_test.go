package execute

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func fakePiston(t *testing.T, status int, body string, seen *pistonRequest) *httptest.Server {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if seen != nil {
			if err := json.NewDecoder(r.Body).Decode(seen); err != nil {
				t.Errorf("Bad request body: %v", err)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestExecuteSuccess(t *testing.T) {
	var seen pistonRequest
	server := fakePiston(t, http.StatusOK, `{"run":{"stdout":"hello\n","stderr":"","code":0}}`, &seen)
	client := NewClient(server.URL, time.Second)

	result, err := client.Execute(context.Background(), Request{Language: "py", Code: "print('hello')", Stdin: "x"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Output != "hello\n" || result.IsError {
		t.Errorf("Unexpected result %+v", result)
	}
	if seen.Language != "python" || seen.Version != "*" || seen.Stdin != "x" {
		t.Errorf("Unexpected piston request %+v", seen)
	}
	if len(seen.Files) != 1 || seen.Files[0].Content != "print('hello')" {
		t.Errorf("Expected code as the only file, got %+v", seen.Files)
	}
}

func TestExecuteInterpretsOutput(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		isError bool
	}{
		{"empty stdout", `{"run":{"stdout":"","stderr":"","code":0}}`, "No output", false},
		{"stderr wins", `{"run":{"stdout":"partial","stderr":"boom","code":1}}`, "boom", true},
		{"non-zero exit", `{"run":{"stdout":"out","stderr":"","code":2}}`, "out", true},
		{"compile failure", `{"compile":{"stdout":"","stderr":"syntax error","code":1},"run":{"stdout":"","stderr":""}}`, "syntax error", true},
		{"compile ok", `{"compile":{"stdout":"","stderr":"","code":0},"run":{"stdout":"42","stderr":"","code":0}}`, "42", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := fakePiston(t, http.StatusOK, tt.body, nil)
			result, err := NewClient(server.URL, time.Second).Execute(context.Background(), Request{Language: "c", Code: "x"})
			if err != nil {
				t.Fatalf("Execute failed: %v", err)
			}
			if result.Output != tt.want || result.IsError != tt.isError {
				t.Errorf("Expected %q/%v, got %q/%v", tt.want, tt.isError, result.Output, result.IsError)
			}
		})
	}
}

func TestExecuteValidation(t *testing.T) {
	client := NewClient("http://127.0.0.1:0", time.Second)

	if _, err := client.Execute(context.Background(), Request{Code: "x"}); !errors.Is(err, ErrLanguageRequired) {
		t.Errorf("Expected ErrLanguageRequired, got %v", err)
	}
	if _, err := client.Execute(context.Background(), Request{Language: "go", Code: "   "}); !errors.Is(err, ErrCodeRequired) {
		t.Errorf("Expected ErrCodeRequired, got %v", err)
	}
}

func TestExecuteUpstreamError(t *testing.T) {
	server := fakePiston(t, http.StatusBadRequest, `{"message":"cobol-99 runtime is unknown"}`, nil)

	_, err := NewClient(server.URL, time.Second).Execute(context.Background(), Request{Language: "cobol-99", Code: "x"})
	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("Expected UpstreamError, got %v", err)
	}
	if upstream.Status != http.StatusBadRequest || upstream.Message != "cobol-99 runtime is unknown" {
		t.Errorf("Unexpected upstream error %+v", upstream)
	}
}

func TestExecuteTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	_, err := NewClient(server.URL, 20*time.Millisecond).Execute(context.Background(), Request{Language: "go", Code: "x"})
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Expected ErrTimeout, got %v", err)
	}
}

func TestExecuteUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := NewClient(url, time.Second).Execute(context.Background(), Request{Language: "go", Code: "x"})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable, got %v", err)
	}
}

func TestNormalizeLanguage(t *testing.T) {
	tests := map[string]string{
		"js":      "javascript",
		"cpp":     "c++",
		"C#":      "csharp",
		" Py ":    "python",
		"golang":  "go",
		"unknown": "unknown",
	}
	for in, want := range tests {
		if got := NormalizeLanguage(in); got != want {
			t.Errorf("NormalizeLanguage(%q) = %q, want %q", in, got, want)
		}
	}
}
