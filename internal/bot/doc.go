// Package bot is the chat front end: it routes updates from the messaging
// adapter to commands, inline-button callbacks, poll answers and membership
// changes.
//
// Updates are handled by a bounded worker pool under a supervisor. Handlers
// run through a middleware chain (panic recovery, request log, timeout).
package bot
