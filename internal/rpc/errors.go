package rpc

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// ErrRangeTooWide is returned when a log request spans more blocks than the
// configured maximum. Callers split the range with ChunkRange.
var ErrRangeTooWide = errors.New("block range too wide")

// ErrNoEndpoints is returned when a log source is built without endpoints.
var ErrNoEndpoints = errors.New("no rpc endpoints configured")

// limitExceededCode is the JSON-RPC error code several providers use for
// request and response size limits.
const limitExceededCode = -32005

// TransientError reports a call that failed on every endpoint. The next poll
// cycle retries it.
type TransientError struct {
	Method   string
	Attempts int
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s failed on %d endpoint(s): %v", e.Method, e.Attempts, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err came out of the log source after exhausting endpoints.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// isRateLimited matches HTTP 429, the limit-exceeded JSON-RPC code and any
// configured message marker.
func isRateLimited(err error, markers []string) bool {
	if err == nil {
		return false
	}

	var httpErr gethrpc.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusTooManyRequests {
		return true
	}
	var rpcErr gethrpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == limitExceededCode {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range markers {
		if marker != "" && strings.Contains(msg, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}
