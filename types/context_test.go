package types

import (
	"net"
	"strings"
	"testing"

	"github.com/valyala/fasthttp"
)

func newFailContext(t *testing.T) *RequestContext {
	t.Helper()

	var req fasthttp.Request
	req.Header.SetMethod("GET")
	req.SetRequestURI("/guarded")

	fctx := &fasthttp.RequestCtx{}
	fctx.Init(&req, &net.TCPAddr{IP: net.ParseIP("10.0.0.1"), Port: 40000}, nil)

	return NewRequestContext(fctx, "http", "localhost:8080")
}

func TestFailWritesJSONErrorBody(t *testing.T) {
	ctx := newFailContext(t)
	ctx.RequestID = "req-7"

	ctx.Fail(fasthttp.StatusForbidden, ErrAccessDenied)

	if got := ctx.Status(); got != fasthttp.StatusForbidden {
		t.Fatalf("status = %d, want 403", got)
	}
	if got := string(ctx.Raw.Response.Header.ContentType()); got != "application/json" {
		t.Fatalf("content type = %q", got)
	}
	if got := string(ctx.Raw.Response.Header.Peek("Cache-Control")); !strings.Contains(got, "no-store") {
		t.Fatalf("Cache-Control = %q, error responses must not be cacheable", got)
	}
	if got := string(ctx.Raw.Response.Header.Peek("X-Request-ID")); got != "req-7" {
		t.Fatalf("X-Request-ID = %q, want the request id echoed", got)
	}

	body := string(ctx.Raw.Response.Body())
	if !strings.Contains(body, `"error":"Forbidden"`) {
		t.Fatalf("body = %q, want the status text", body)
	}
	if !strings.Contains(body, "access denied") {
		t.Fatalf("body = %q, want the error message", body)
	}
}

func TestFailWithoutErrorOmitsMessage(t *testing.T) {
	ctx := newFailContext(t)

	ctx.Fail(fasthttp.StatusNotFound, nil)

	body := string(ctx.Raw.Response.Body())
	if !strings.Contains(body, `"error":"Not Found"`) {
		t.Fatalf("body = %q", body)
	}
	if strings.Contains(body, "message") {
		t.Fatalf("body = %q, message must be omitted for a nil error", body)
	}
	if got := string(ctx.Raw.Response.Header.Peek("X-Request-ID")); got != "" {
		t.Fatalf("X-Request-ID = %q, must be absent without a request id", got)
	}
}
