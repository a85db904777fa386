package runner

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"
)

// maxBodyBytes caps how much of a response body is kept for classification.
const maxBodyBytes = 64 << 10

// Request is one outgoing call.
type Request struct {
	Method  string
	URL     string
	Header  http.Header
	Body    []byte
	Timeout time.Duration
}

// Response carries what the classifier needs.
type Response struct {
	StatusCode int
	Body       string
}

// Sender issues a request. A non-nil error means no usable response arrived
// and is always a *TransportError.
type Sender interface {
	Send(ctx context.Context, req Request) (Response, error)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, req Request) (Response, error)

func (f SenderFunc) Send(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

type TransportErrorKind int

const (
	KindOther TransportErrorKind = iota
	KindTimeout
	KindConnection
)

func (k TransportErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindConnection:
		return "connection"
	default:
		return "other"
	}
}

// TransportError is a failure below HTTP: timeout, refused or reset
// connection, malformed response.
type TransportError struct {
	Kind TransportErrorKind
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Timeout() bool {
	return e.Kind == KindTimeout
}

// NewTransportError wraps err and decides whether it was a timeout or a
// connection problem.
func NewTransportError(err error) *TransportError {
	var te *TransportError
	if errors.As(err, &te) {
		return te
	}
	return &TransportError{Kind: transportKind(err), Err: err}
}

func transportKind(err error) TransportErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindConnection
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindConnection
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return KindConnection
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil && urlErr.Err != err {
		return transportKind(urlErr.Err)
	}
	return KindOther
}

// HTTPSender sends requests through a pooled http.Client.
type HTTPSender struct {
	Client *http.Client
}

// NewHTTPSender builds a client sized for high concurrency.
func NewHTTPSender(timeout time.Duration, insecure bool) *HTTPSender {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = 2000
	t.MaxConnsPerHost = 2000
	t.MaxIdleConnsPerHost = 2000
	if insecure {
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &HTTPSender{
		Client: &http.Client{
			Timeout:   timeout,
			Transport: t,
		},
	}
}

func (s *HTTPSender) Send(ctx context.Context, req Request) (Response, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return Response{}, &TransportError{Kind: KindOther, Err: err}
	}
	if req.Header != nil {
		httpReq.Header = req.Header.Clone()
	}

	resp, err := s.Client.Do(httpReq)
	if err != nil {
		return Response{}, NewTransportError(err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Response{StatusCode: resp.StatusCode}, NewTransportError(err)
	}
	io.Copy(io.Discard, resp.Body)

	return Response{StatusCode: resp.StatusCode, Body: string(b)}, nil
}

func (s *HTTPSender) Close() {
	s.Client.CloseIdleConnections()
}
