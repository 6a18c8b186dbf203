package server

import "time"

// MetricsCollector is an optional interface for collecting server metrics.
// Implementations can send metrics to monitoring systems like Prometheus.
//
// Methods are called inline from session goroutines and must not block.
// The server checks for a nil collector before every call.
type MetricsCollector interface {
	// RecordCommand records one processed command. success is true when the
	// final reply was not a 4xx/5xx code.
	RecordCommand(cmd string, success bool, duration time.Duration)

	// RecordTransfer records one data-connection transfer.
	// operation is the verb that moved the bytes (RETR, STOR, LIST, NLST).
	RecordTransfer(operation string, bytes int64, duration time.Duration, success bool)

	// RecordConnection records an accepted or rejected control connection.
	// reason is "accepted", "global_limit_reached" or "per_ip_limit_reached".
	RecordConnection(accepted bool, reason string)

	// RecordSessionStart and RecordSessionEnd bracket a running session.
	RecordSessionStart()
	RecordSessionEnd()

	// RecordLogin records a completed USER/PASS handshake.
	RecordLogin(user string)
}
