// Package push receives signed push notifications and turns them into
// queued refresh commands.
//
// Each endpoint is bound to one account. A POST whose body carries a valid
// HMAC-SHA256 signature submits a background fetch-timeline command for
// every timeline the endpoint refreshes, plus a get-note when the body
// names a note. Commands are not manually launched, so a push that lands
// while the same refresh is queued or executing is absorbed as a
// duplicate.
//
// Body (all fields optional):
//
//	{"timelines": ["mentions"], "note_id": "109876"}
//
// timelines narrows the refresh to a subset of the endpoint's timelines.
//
// Signature header (default X-Courier-Signature) accepts "sha256=<hex>" or
// plain hex of HMAC-SHA256(secret, body).
package push
