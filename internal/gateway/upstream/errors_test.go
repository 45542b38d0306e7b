package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"testing"

	"github.com/sashabaranov/go-openai"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "cancelled", err: context.Canceled, want: false},
		{name: "deadline", err: context.DeadlineExceeded, want: false},
		{
			name: "provider 429",
			err:  &openai.APIError{HTTPStatusCode: 429},
			want: false,
		},
		{
			name: "provider 500",
			err:  &openai.APIError{HTTPStatusCode: 500},
			want: false,
		},
		{
			name: "provider request error",
			err:  &openai.RequestError{HTTPStatusCode: 400, Err: errors.New("bad request")},
			want: false,
		},
		{
			name: "wrapped api error",
			err:  fmt.Errorf("upstream: %w", &openai.APIError{HTTPStatusCode: 503}),
			want: false,
		},
		{
			name: "dial refused",
			err:  &net.OpError{Op: "dial", Err: errors.New("connection refused")},
			want: true,
		},
		{
			name: "net timeout",
			err:  timeoutErr{},
			want: true,
		},
		{
			name: "url error",
			err:  &url.Error{Op: "Post", URL: "https://api.example.com", Err: errors.New("EOF")},
			want: true,
		},
		{
			name: "url error wrapping cancellation",
			err:  &url.Error{Op: "Post", URL: "https://api.example.com", Err: context.Canceled},
			want: false,
		},
		{name: "plain error", err: errors.New("something"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestStatusCode(t *testing.T) {
	if got := StatusCode(fmt.Errorf("upstream: %w", &openai.APIError{HTTPStatusCode: 429})); got != 429 {
		t.Errorf("StatusCode() = %d, want 429", got)
	}
	if got := StatusCode(errors.New("dial refused")); got != 0 {
		t.Errorf("StatusCode() = %d, want 0", got)
	}
}

func TestRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr bool
	}{
		{name: "valid", req: Request{Model: "gpt-4o", Input: "hi"}, wantErr: false},
		{name: "missing model", req: Request{Input: "hi"}, wantErr: true},
		{name: "missing input", req: Request{Model: "gpt-4o"}, wantErr: true},
		{name: "whitespace input", req: Request{Model: "gpt-4o", Input: "  "}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.req.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
