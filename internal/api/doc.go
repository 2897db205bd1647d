// Package api implements the HTTP REST API and WebSocket server for softbus.
//
// This package provides:
//   - REST endpoints for device and group provisioning
//   - Synchronous and asynchronous sends, group sends and drain passes
//   - Paginated access to the dispatch log
//   - WebSocket hub relaying dispatch events to subscribed clients
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Errors
//
// Every failure is answered with {"status", "code", "message"}. The code is
// the bus status name (not_found, timeout, ...) and the HTTP status follows
// from it:
//
//	not_found          404
//	already_exists     409
//	busy               409
//	invalid_argument   400
//	capacity_exceeded  507
//	out_of_memory      507
//	timeout            504
//	error              502
//
// # WebSocket
//
// Clients connect to /api/v1/ws and send
//
//	{"type": "subscribe", "payload": {"channels": ["dispatch.completed"]}}
//
// Channels are dispatch.sent, dispatch.processed, dispatch.completed and
// dispatch.group. Each event carries a bus.Event as its payload.
package api
