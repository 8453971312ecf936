package httpcache

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/iTrooz/offline-proxy/internal/cache"
)

// HTTPCache is one named partition of URL -> response entries
type HTTPCache struct {
	name  string
	cache cache.GenericCache
}

func NewHTTP(name string, cache cache.GenericCache) *HTTPCache {
	return &HTTPCache{
		name:  name,
		cache: cache,
	}
}

// Name returns the partition name
func (d *HTTPCache) Name() string {
	return d.name
}

// GenerateKey returns the request URL the entry is stored under:
// scheme, host, path and query, without fragment or default port
func GenerateKey(request *http.Request) string {
	return NormalizeURL(TargetURL(request))
}

// TargetURL returns the absolute URL the request is aimed at
func TargetURL(r *http.Request) string {
	if r.URL.IsAbs() {
		return r.URL.String()
	}

	// Reconstruct URL from Host header
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	return fmt.Sprintf("%s://%s%s", scheme, r.Host, r.URL.RequestURI())
}

// NormalizeURL drops the fragment and the scheme's default port
func NormalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Fragment = ""
	u.RawFragment = ""
	switch {
	case u.Scheme == "http" && strings.HasSuffix(u.Host, ":80"):
		u.Host = strings.TrimSuffix(u.Host, ":80")
	case u.Scheme == "https" && strings.HasSuffix(u.Host, ":443"):
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	return u.String()
}

func (d *HTTPCache) SetReq(request *http.Request, resp *http.Response) error {
	if request.Method != http.MethodGet {
		return fmt.Errorf("refusing to cache %s request for %s", request.Method, request.URL)
	}

	return d.SetKey(GenerateKey(request), resp)
}

func (d *HTTPCache) SetKey(requestKey string, resp *http.Response) error {
	data, err := Serialize(resp)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if err := d.cache.Set(requestKey, data); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}

	return nil
}

// GetReq returns the stored response for the request, or nil, nil on a miss.
// Non-GET requests always miss.
func (d *HTTPCache) GetReq(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet {
		return nil, nil
	}

	resp, err := d.GetKey(GenerateKey(req))
	if err != nil {
		return nil, err
	}
	// Handle no cache hit
	if resp == nil {
		return nil, nil
	}

	// Associate the original request with the response
	resp.Request = req
	return resp, nil
}

func (d *HTTPCache) GetKey(requestKey string) (*http.Response, error) {
	data, err := d.cache.Get(requestKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get cache: %w", err)
	}
	if data == nil {
		return nil, nil // Cache miss
	}

	resp, err := Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize response: %w", err)
	}
	return resp, nil
}

// DeleteKey removes one entry
func (d *HTTPCache) DeleteKey(requestKey string) error {
	return d.cache.Delete(requestKey)
}

// Keys lists the URLs stored in the partition
func (d *HTTPCache) Keys() ([]string, error) {
	return d.cache.Keys()
}
