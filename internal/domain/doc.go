// Package domain contains the core value types shared by every component:
// the routing identity, task submissions and the validation errors they
// produce. It is independent of any transport or broker.
package domain
