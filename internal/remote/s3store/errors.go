package s3store

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/roach88/pubsync/internal/remote"
)

// DefaultRetryAfter is the hint used for retryable failures that carry no
// Retry-After header.
const DefaultRetryAfter = time.Second

// classify maps an SDK error onto remote.TransportError. Throttling, 5xx
// responses and network failures are retryable; everything else is fatal.
// Context errors pass through unchanged.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		status := re.HTTPStatusCode()
		if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
			var header http.Header
			if re.Response != nil && re.Response.Response != nil {
				header = re.Response.Header
			}
			return remote.Retry(op, retryAfter(header), err)
		}
		return remote.Fatal(op, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorFault() == smithy.FaultServer {
		return remote.Retry(op, DefaultRetryAfter, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return remote.Retry(op, DefaultRetryAfter, err)
	}
	return remote.Fatal(op, err)
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP
// date.
func retryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return DefaultRetryAfter
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return DefaultRetryAfter
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound
}
