// Package event provides a synchronous publish/subscribe bus.
//
// Delivery is in-order: subscribers run one after another in the order they
// subscribed, on the publisher's goroutine. A subscriber that panics or
// returns an error is recorded and delivery continues with the next one.
//
// # Topics
//
// Topics use dot-notation. Subscription patterns may use "*" to match one
// segment and "**" to match zero or more segments:
//
//	plugin.*        matches plugin.installed, plugin.launched
//	protocol.**     matches protocol.dispatched, protocol.default.changed
//	**              matches everything
package event
