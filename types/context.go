package types

import (
	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-pipeline/utils"
)

// UploadedFile is a single file extracted from a multipart request body.
type UploadedFile struct {
	Field       string `json:"field"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Data        []byte `json:"-"`
}

// RequestContext carries the mutable per-request state through the chain.
// It is owned by exactly one worker for the duration of one request and is
// never shared across requests, so none of its fields are synchronized.
type RequestContext struct {
	Raw        *fasthttp.RequestCtx
	RequestID  string
	Method     string
	Path       string
	Protocol   string
	Endpoint   string
	RemoteAddr string
	Query      map[string]string
	Body       interface{}
	RawBody    []byte
	Files      []*UploadedFile
	Params     map[string]string
	Route      *Route

	options interface{}
}

func NewRequestContext(raw *fasthttp.RequestCtx, protocol, endpoint string) *RequestContext {
	return &RequestContext{
		Raw:        raw,
		Method:     string(raw.Method()),
		Path:       string(raw.Path()),
		Protocol:   protocol,
		Endpoint:   endpoint,
		RemoteAddr: raw.RemoteIP().String(),
	}
}

// SetOptions installs the transient options payload for the middleware
// entry about to run. The chain engine clears it after each invocation.
func (rc *RequestContext) SetOptions(opts interface{}) {
	rc.options = opts
}

func (rc *RequestContext) Options() interface{} {
	return rc.options
}

func (rc *RequestContext) ClearOptions() {
	rc.options = nil
}

func (rc *RequestContext) SetStatus(code int) {
	rc.Raw.SetStatusCode(code)
}

func (rc *RequestContext) Status() int {
	return rc.Raw.Response.StatusCode()
}

func (rc *RequestContext) Write(data []byte) (int, error) {
	return rc.Raw.Write(data)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Fail sets the status code and writes a JSON error body. A nil err leaves
// the message empty. Error responses are never cacheable.
func (rc *RequestContext) Fail(status int, err error) {
	rc.Raw.SetStatusCode(status)
	rc.Raw.SetContentType("application/json")
	rc.Raw.Response.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")

	if rc.RequestID != "" {
		rc.Raw.Response.Header.Set("X-Request-ID", rc.RequestID)
	}

	body := errorBody{Error: fasthttp.StatusMessage(status)}
	if err != nil {
		body.Message = err.Error()
	}

	data, mErr := utils.Marshal(body)
	if mErr != nil {
		rc.Raw.SetBodyString(`{"error":"Internal Server Error"}`)
		return
	}

	rc.Raw.SetBody(data)
}
