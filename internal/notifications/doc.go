// Package notifications delivers optional ntfy alerts to the operator.
//
// The service is event-driven: daemon lifecycle, job failures, and
// kill-switch use each map to one ntfy publish with a title, tags, and a
// priority. Per-event toggles in the config suppress categories the
// operator does not care about, and a missing topic swaps in a noop
// implementation so callers never branch on whether notifications are
// configured. Requester-facing messages never travel through here; those
// belong to the chat transport.
package notifications
