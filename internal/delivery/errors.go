package delivery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies transport failures.
type ErrorKind string

const (
	KindNetwork   ErrorKind = "network"
	KindTimeout   ErrorKind = "timeout"
	KindAuth      ErrorKind = "auth"
	KindServer    ErrorKind = "server"
	KindDowngrade ErrorKind = "downgrade"
)

// ErrPushUnsupported signals that the remote side cannot serve a push stream
// and the controller should poll instead.
var ErrPushUnsupported = errors.New("push channel unsupported")

// TransportError is returned by transports to describe a failed exchange.
type TransportError struct {
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	msg := string(e.Kind) + " error"
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransportError) Unwrap() error { return e.Err }

// Classify maps any error onto an ErrorKind. Unknown errors count as network failures.
func Classify(err error) ErrorKind {
	var te *TransportError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &te) && te.Kind != "":
		return te.Kind
	case errors.Is(err, ErrPushUnsupported):
		return KindDowngrade
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	default:
		return KindNetwork
	}
}

// KindForStatus maps an HTTP status code onto an ErrorKind.
func KindForStatus(code int) ErrorKind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindAuth
	case code == http.StatusNotFound || code == http.StatusUpgradeRequired || code == http.StatusNotImplemented:
		return KindDowngrade
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return KindTimeout
	case code >= 500:
		return KindServer
	default:
		return KindNetwork
	}
}

func fallbackHint(kind ErrorKind) string {
	switch kind {
	case KindAuth:
		return "credentials were rejected; sign in again before retrying"
	case KindTimeout:
		return "the run may still finish; check its status later"
	case KindServer:
		return "the diagnosis service reported a failure; retry the run"
	default:
		return "check connectivity and resume watching the run"
	}
}
