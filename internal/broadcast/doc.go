// Package broadcast forwards one message to many chats.
//
// A broadcast is a Job: a source message and a list of targets. Jobs are
// queued with Submit and drained by a fixed worker pool. Sends share a rate
// limiter and failed sends are retried a bounded number of times. Targets
// that revoked the bot's access are not retried.
//
// Delivery is best-effort. Per-target results are kept in memory in the job
// status and handed to the job's completion callback.
package broadcast
