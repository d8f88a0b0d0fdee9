// Package conversation tracks partially-submitted generation requests per
// requester until an image and a prompt have both arrived.
//
// Each chat holds at most one entry. Submitting the same piece twice
// overwrites the previous one, abandoned entries expire after a configurable
// window, and state is memory-resident only.
package conversation
