package scene

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"

	"github.com/pkg/errors"
)

// FromHTTPRequest transcodes an HTTP request to a scene Request.
// The request body is consumed and replaced with an identical, re-readable body.
func FromHTTPRequest(httpRequest *http.Request) (*Request, error) {
	if httpRequest == nil {
		return nil, nil
	}

	body, err := cloneHTTPRequestBody(httpRequest)
	if err != nil {
		return nil, err
	}

	return &Request{
		Method: httpRequest.Method,
		URL:    cloneURL(httpRequest.URL),
		Header: cloneHeader(httpRequest.Header),
		Body:   body,
	}, nil
}

// FromHTTPResponse transcodes an HTTP response to a scene Response.
// The body is not read: it is recorded separately as Data scenes.
func FromHTTPResponse(httpResponse *http.Response) *Response {
	if httpResponse == nil {
		return nil
	}

	resp := &Response{
		StatusCode: httpResponse.StatusCode,
		Status:     httpResponse.Status,
		Header:     cloneHeader(httpResponse.Header),
	}

	if httpResponse.Request != nil {
		resp.URL = cloneURL(httpResponse.Request.URL)
	}

	return resp
}

// ToHTTPResponse builds an http.Response from a recorded Response and body for the
// supplied live request. The response is attributed to the live request so that the
// client sees the URL it asked for, not the recorded effective URL.
func ToHTTPResponse(resp *Response, body []byte, httpRequest *http.Request) *http.Response {
	if resp == nil {
		return nil
	}

	status := resp.Status
	if status == "" {
		status = fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	header := cloneHeader(resp.Header)
	if header == nil {
		header = http.Header{}
	}

	httpResponse := &http.Response{
		Status:        status,
		StatusCode:    resp.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(cloneBytes(body))),
		ContentLength: int64(len(body)),
		Request:       httpRequest,
	}

	// filters may have rewritten the body: keep the declared length truthful.
	if httpResponse.Header.Get("Content-Length") != "" {
		httpResponse.Header.Set("Content-Length", strconv.Itoa(len(body)))
	}

	return httpResponse
}

// Error domains for well-known Go errors.
const (
	DomainNetOp   = "*net.OpError"
	DomainContext = "context"
)

// FromGoError records a Go error returned by an HTTP transport.
func FromGoError(err error) *Error {
	if err == nil {
		return nil
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Domain: DomainContext, Message: err.Error()}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		msg := ""
		if opErr.Err != nil {
			msg = opErr.Err.Error()
		}

		return &Error{
			Domain:  DomainNetOp,
			Message: msg,
			Details: map[string]string{"op": opErr.Op, "net": opErr.Net},
		}
	}

	return &Error{
		Domain:  fmt.Sprintf("%T", err),
		Message: err.Error(),
	}
}

// ToGoError re-creates a Go error from a recorded Error.
func (e *Error) ToGoError() error {
	if e == nil {
		return nil
	}

	switch e.Domain {
	case DomainNetOp:
		return &net.OpError{
			Op:  e.Details["op"],
			Net: e.Details["net"],
			Err: errors.New(e.Message),
		}

	case DomainContext:
		if e.Message == context.DeadlineExceeded.Error() {
			return context.DeadlineExceeded
		}
		return context.Canceled

	default:
		return e.Clone()
	}
}

func cloneHTTPRequestBody(httpRequest *http.Request) ([]byte, error) {
	if httpRequest.Body == nil || httpRequest.Body == http.NoBody {
		return nil, nil
	}

	body, err := io.ReadAll(httpRequest.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read request body")
	}

	if err = httpRequest.Body.Close(); err != nil {
		return nil, errors.Wrap(err, "close request body")
	}

	httpRequest.Body = io.NopCloser(bytes.NewReader(body))

	if len(body) == 0 {
		return nil, nil
	}

	return body, nil
}
