package event

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// HrefRequest is the URL-addressed request shape used by some deployments.
//
// It is never sent as-is; RequestFromHref converts it to the canonical
// host based Request so only one shape exists on the wire.
type HrefRequest struct {
	Href        string
	Headers     map[string]string
	Method      string
	Body        json.RawMessage
	QueryString map[string]string
}

// RequestFromHref converts an href-form descriptor to the canonical form.
// The querystring map is merged into the URL query, sorted by key.
func RequestFromHref(h HrefRequest) (Request, error) {
	raw := strings.TrimSpace(h.Href)
	if raw == "" {
		return Request{}, fmt.Errorf("request href is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Request{}, fmt.Errorf("request href: %w", err)
	}
	if u.Scheme == "" || u.Hostname() == "" {
		return Request{}, fmt.Errorf("request href %q must be absolute", raw)
	}

	port := 0
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return Request{}, fmt.Errorf("request href %q: invalid port", raw)
		}
	} else if strings.EqualFold(u.Scheme, "https") {
		port = 443
	}

	q := u.Query()
	for k, v := range h.QueryString {
		q.Set(k, v)
	}
	path := u.EscapedPath()
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}

	r := Request{
		Host:     u.Hostname(),
		Protocol: strings.ToLower(u.Scheme),
		Port:     port,
		Headers:  h.Headers,
		Method:   h.Method,
		Path:     path,
		Data:     h.Body,
	}
	return r.Normalize(), nil
}

// Href renders the canonical request back as a URL. Default ports are omitted.
func (r Request) Href() string {
	n := r.Normalize()
	scheme := strings.TrimSuffix(n.Protocol, ":")
	host := n.Host
	if !(scheme == "http" && n.Port == 80) && !(scheme == "https" && n.Port == 443) {
		host += ":" + strconv.Itoa(n.Port)
	}
	return scheme + "://" + host + n.Path
}
