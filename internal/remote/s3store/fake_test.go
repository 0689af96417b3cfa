package s3store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeBucket is an http.RoundTripper serving a single in-memory bucket with
// the subset of the S3 REST API the store uses.
type fakeBucket struct {
	mu       sync.Mutex
	objects  map[string][]byte
	listPage int
	failures []fakeFailure
	requests int
}

type fakeFailure struct {
	status int
	header http.Header
	code   string
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: make(map[string][]byte), listPage: 1000}
}

// failNext makes the next request fail with status.
func (b *fakeBucket) failNext(status int, code string, header http.Header) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if header == nil {
		header = http.Header{}
	}
	b.failures = append(b.failures, fakeFailure{status: status, header: header, code: code})
}

func (b *fakeBucket) putRaw(key string, body []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = body
}

func (b *fakeBucket) has(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[key]
	return ok
}

func xmlResponse(status int, body string, header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Type", "application/xml")
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body)), Header: header}
}

func errorBody(code string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>%s</Code><Message>%s</Message><RequestId>req</RequestId></Error>`, code, code)
}

func (b *fakeBucket) RoundTrip(req *http.Request) (*http.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests++

	if len(b.failures) > 0 {
		f := b.failures[0]
		b.failures = b.failures[1:]
		return xmlResponse(f.status, errorBody(f.code), f.header.Clone()), nil
	}

	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}

	if req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2" {
		return b.list(req), nil
	}

	switch req.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(req.Body)
		if strings.Contains(req.Header.Get("Content-Encoding"), "aws-chunked") {
			body = decodeChunked(body)
		}
		b.objects[key] = body
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{"ETag": {`"etag"`}}}, nil
	case http.MethodGet:
		body, ok := b.objects[key]
		if !ok {
			return xmlResponse(http.StatusNotFound, errorBody("NoSuchKey"), nil), nil
		}
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(body)), Header: http.Header{
			"Content-Length": {strconv.Itoa(len(body))},
			"Content-Type":   {"application/json"},
			"ETag":           {`"etag"`},
		}}, nil
	case http.MethodDelete:
		delete(b.objects, key)
		return &http.Response{StatusCode: http.StatusNoContent, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{}}, nil
	}
	return xmlResponse(http.StatusNotImplemented, errorBody("NotImplemented"), nil), nil
}

// list serves ListObjectsV2 with pages of b.listPage keys. The continuation
// token is the last key of the previous page.
func (b *fakeBucket) list(req *http.Request) *http.Response {
	q := req.URL.Query()
	prefix := q.Get("prefix")
	after := q.Get("continuation-token")

	var keys []string
	for k := range b.objects {
		if strings.HasPrefix(k, prefix) && k > after {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	truncated := len(keys) > b.listPage
	if truncated {
		keys = keys[:b.listPage]
	}

	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult>`)
	fmt.Fprintf(&sb, "<IsTruncated>%t</IsTruncated>", truncated)
	if truncated {
		fmt.Fprintf(&sb, "<NextContinuationToken>%s</NextContinuationToken>", keys[len(keys)-1])
	}
	for _, k := range keys {
		fmt.Fprintf(&sb, "<Contents><Key>%s</Key><Size>%d</Size><LastModified>2024-01-01T00:00:00Z</LastModified></Contents>", k, len(b.objects[k]))
	}
	sb.WriteString("</ListBucketResult>")
	return xmlResponse(http.StatusOK, sb.String(), nil)
}

// decodeChunked unwraps a single-chunk aws-chunked payload.
func decodeChunked(b []byte) []byte {
	parts := strings.Split(string(b), "\r\n")
	if len(parts) < 3 {
		return b
	}
	n, err := strconv.ParseInt(strings.SplitN(parts[0], ";", 2)[0], 16, 64)
	if err != nil || int64(len(parts[1])) != n {
		return b
	}
	return []byte(parts[1])
}

func newTestStore(t *testing.T, bucket *fakeBucket) *Store {
	t.Helper()
	s, err := New(context.Background(), Config{
		Bucket:          "sync-bucket",
		Region:          "us-east-1",
		Endpoint:        "https://mock.s3.local",
		Prefix:          "pubsync/",
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
		PathStyle:       true,
		HTTPClient:      &http.Client{Transport: bucket},
	})
	require.NoError(t, err)
	return s
}
