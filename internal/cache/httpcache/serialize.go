package httpcache

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
)

const PREFIX = "---HTTP-RESPONSE---\n"

// Serialize dumps the response in HTTP/1.1 wire format.
// The body is read fully and replaced, so resp stays usable by the caller.
func Serialize(resp *http.Response) ([]byte, error) {
	var body []byte
	if resp.Body != nil {
		var err error
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: %w", err)
		}
		_ = resp.Body.Close()
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	clone := *resp
	clone.Body = io.NopCloser(bytes.NewReader(body))
	clone.ContentLength = int64(len(body))
	clone.TransferEncoding = nil
	clone.Header = resp.Header.Clone()
	if clone.Header == nil {
		clone.Header = http.Header{}
	}
	clone.Header.Del("Transfer-Encoding")
	if clone.ProtoMajor == 0 {
		clone.Proto, clone.ProtoMajor, clone.ProtoMinor = "HTTP/1.1", 1, 1
	}

	b, err := httputil.DumpResponse(&clone, true)
	if err != nil {
		return nil, err
	}

	return append([]byte(PREFIX), b...), nil
}

func Deserialize(b []byte) (*http.Response, error) {
	if len(b) < len(PREFIX) || string(b[:len(PREFIX)]) != PREFIX {
		return nil, fmt.Errorf("invalid prefix: expected '%s'", PREFIX)
	}

	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(b[len(PREFIX):])), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize response: %w", err)
	}

	return resp, nil
}
