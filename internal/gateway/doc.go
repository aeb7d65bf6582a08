// Package gateway admits websocket clients.
//
// Admission verifies the bearer credential and derives an identity. A
// rejected client gets a close frame whose code names the cause; an admitted
// client gets a session from the session router and one acknowledgement.
package gateway
