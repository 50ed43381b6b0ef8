package cache

import (
	"net/http"
)

// ShouldMakeConditionalRequest reports whether an If-None-Match header
// should be sent for a cached ETag.
func ShouldMakeConditionalRequest(etag string) bool {
	return etag != ""
}

// AddConditionalHeaders adds If-None-Match to the request when an ETag is known.
func AddConditionalHeaders(req *http.Request, etag string) {
	if req == nil || !ShouldMakeConditionalRequest(etag) {
		return
	}
	req.Header.Set("If-None-Match", etag)
}

// ResponseETag returns the ETag a response carries, or "" when absent.
func ResponseETag(resp *http.Response) string {
	if resp == nil {
		return ""
	}
	return resp.Header.Get("ETag")
}
