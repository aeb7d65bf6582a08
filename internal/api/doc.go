// Package api handles incoming HTTP requests, routing, request validation,
// and response formatting. It exposes task discovery and submission, and the
// diagnostics endpoints used to check the result bus and live sessions.
// Result delivery itself happens over the websocket gateway.
package api
