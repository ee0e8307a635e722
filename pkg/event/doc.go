// Package event defines the scheduled Event value and its normalization.
//
// An Event is identified by (slug, key) and describes a deferred HTTP call
// (Request) that the scheduling service performs at RunAt. The package owns
// all defaulting and coercion rules:
//   - key defaults to ""
//   - request.method defaults to GET, protocol to "http:", port to 80, path to "/"
//   - protocol always ends with ':' and path always starts with '/'
//   - run_at is epoch milliseconds (Millis) on the wire, never a date string
//   - recurring is opaque JSON, or false for one-shot events
//
// Only the host based request form is canonical. Href based descriptors go
// through RequestFromHref.
package event
