package client

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

// acceptEncoding is sent with every schema request.
const acceptEncoding = "gzip, deflate"

// readBody reads the response body, undoing any Content-Encoding the server
// applied. limit caps the decoded size; a larger body is an error, never a
// truncated result.
func readBody(resp *http.Response, limit int64) ([]byte, error) {
	r, closeFn, err := decodedReader(resp)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: limit is %d bytes", ErrBodyTooLarge, limit)
	}
	return data, nil
}

// decodedReader wraps the body in the decoder matching its Content-Encoding.
func decodedReader(resp *http.Response) (io.Reader, func() error, error) {
	noop := func() error { return nil }

	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "", "identity":
		return resp.Body, noop, nil

	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, nil, fmt.Errorf("gzip body: %w", err)
		}
		return zr, zr.Close, nil

	case "deflate":
		// "deflate" is zlib-wrapped per RFC 9110, but some servers send raw DEFLATE.
		br := bufio.NewReader(resp.Body)
		if header, err := br.Peek(2); err == nil && isZlibHeader(header) {
			zr, err := zlib.NewReader(br)
			if err != nil {
				return nil, nil, fmt.Errorf("deflate body: %w", err)
			}
			return zr, zr.Close, nil
		}
		fr := flate.NewReader(br)
		return fr, fr.Close, nil

	default:
		return nil, nil, fmt.Errorf("unsupported content encoding %q", resp.Header.Get("Content-Encoding"))
	}
}

// isZlibHeader reports whether b starts with a valid zlib CMF/FLG pair.
func isZlibHeader(b []byte) bool {
	return b[0]&0x0f == 8 && (uint16(b[0])<<8|uint16(b[1]))%31 == 0
}
