package identityflow

import (
	"net/url"
	"strings"
)

// Query parameter names carried by confirmation and recovery links.
const (
	LinkParamIdentity = "identity"
	LinkParamCode     = "code"
)

// buildURL joins baseURL and route with exactly one slash between them and
// appends params as an encoded query. Encode sorts keys, so the same inputs
// always produce the same link.
func buildURL(baseURL, route string, params url.Values) string {
	var b strings.Builder
	b.Grow(len(baseURL) + len(route) + 64)

	b.WriteString(baseURL)
	if !strings.HasSuffix(baseURL, "/") {
		b.WriteByte('/')
	}
	b.WriteString(strings.TrimPrefix(route, "/"))
	b.WriteByte('?')
	b.WriteString(params.Encode())
	return b.String()
}

func linkParams(identity, code string) url.Values {
	return url.Values{
		LinkParamIdentity: []string{identity},
		LinkParamCode:     []string{code},
	}
}

// ConfirmationURL returns the link a confirmation notification carries.
func (e *Engine) ConfirmationURL(identity, code string) string {
	return buildURL(e.config.Links.BaseURL, e.config.Links.ConfirmationPath, linkParams(identity, code))
}

// RecoveryURL returns the link a recovery notification carries.
func (e *Engine) RecoveryURL(identity, code string) string {
	return buildURL(e.config.Links.BaseURL, e.config.Links.RecoveryPath, linkParams(identity, code))
}
