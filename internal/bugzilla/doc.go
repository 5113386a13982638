// Package bugzilla is the endpoint client for Bugzilla-compatible trackers.
//
// The client maps a tracker subdomain to its REST base URL, issues one GET per
// request through a Transport, and extracts the records for the requested
// entity kind. Transport and shape failures never reach the caller as errors:
// they degrade to an empty Result whose Outcome says what happened, so "no
// bugs exist" and "request failed" look the same to callers that only read
// Records. The client performs no automatic retries; a failed fetch is lost
// for that invocation and pacing is the caller's job.
package bugzilla
