// Request utilities - credential extraction and upstream path building.
//
// DESIGN:
//   - extractCredential(): query "token" > Authorization header > JSON body "token"
//   - readJSONBody():      Bounded read, empty body becomes {}, "token" always stripped
//   - paramPath():         Upstream path from chi URL params
package gateway

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/liteproxy/liteproxy/internal/config"
	"github.com/liteproxy/liteproxy/internal/transcode"
)

// Credential sources, in priority order.
const (
	TokenSourceQuery  = "query"
	TokenSourceHeader = "header"
	TokenSourceBody   = "body"
	TokenSourceNone   = "none"
)

// errBadBody is returned for request bodies the gateway cannot forward.
var errBadBody = errors.New("invalid request body")

// credential is the bearer token forwarded verbatim upstream.
type credential struct {
	Token  string
	Source string
}

// extractCredential picks the token by priority. bodyToken is the "token" field of the
// request body, if any (see readJSONBody and the upload form).
func extractCredential(r *http.Request, bodyToken string) credential {
	if t := r.URL.Query().Get("token"); t != "" {
		return credential{Token: t, Source: TokenSourceQuery}
	}
	if t := r.Header.Get("Authorization"); t != "" {
		return credential{Token: t, Source: TokenSourceHeader}
	}
	if bodyToken != "" {
		return credential{Token: bodyToken, Source: TokenSourceBody}
	}
	return credential{Source: TokenSourceNone}
}

// readJSONBody reads a JSON request body, returning the body with "token" removed and
// the removed token. An empty body is forwarded as {}.
func readJSONBody(w http.ResponseWriter, r *http.Request) (body []byte, token string, err error) {
	if r.Body == nil {
		return []byte("{}"), "", nil
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, config.MaxRequestBodySize))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", errBadBody, err)
	}
	return stripBodyToken(data)
}

// stripBodyToken validates data as JSON and removes a top-level "token" field.
func stripBodyToken(data []byte) ([]byte, string, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return []byte("{}"), "", nil
	}
	if !gjson.ValidBytes(data) {
		return nil, "", fmt.Errorf("%w: not JSON", errBadBody)
	}

	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return data, "", nil
	}

	tok := root.Get("token")
	if !tok.Exists() {
		return data, "", nil
	}
	stripped, err := sjson.DeleteBytes(data, "token")
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", errBadBody, err)
	}

	var token string
	if tok.Type == gjson.String || tok.Type == gjson.Number {
		token = tok.String()
	}
	return stripped, token, nil
}

// =============================================================================
// UPSTREAM PATHS
// =============================================================================

// pathFunc builds the upstream path for an inbound request.
type pathFunc func(r *http.Request) string

func staticPath(path string) pathFunc {
	return func(*http.Request) string { return path }
}

// paramPath formats chi URL params (path-escaped) into format.
func paramPath(format string, params ...string) pathFunc {
	return func(r *http.Request) string {
		args := make([]any, len(params))
		for i, p := range params {
			args[i] = url.PathEscape(chi.URLParam(r, p))
		}
		return fmt.Sprintf(format, args...)
	}
}

// queryFunc selects the query parameters passed upstream.
type queryFunc func(r *http.Request) url.Values

// messageQuery passes through the message pagination parameters.
func messageQuery(r *http.Request) url.Values {
	q := url.Values{}
	in := r.URL.Query()
	for _, key := range []string{"limit", "before", "after"} {
		if v := in.Get(key); v != "" {
			q.Set(key, v)
		}
	}
	return q
}

// transcodeOptions reads per-request transcoding switches. Any non-empty
// "droidcord" value selects extended field sets.
func transcodeOptions(r *http.Request) transcode.Options {
	return transcode.Options{Extended: r.URL.Query().Get("droidcord") != ""}
}
