// Package logger defines the logging contract shared by all promoflash
// components. *slog.Logger satisfies it directly.
package logger

// Logger is implemented by anything that can log structured key/value pairs.
// Implementations must be safe for concurrent use and apply level filtering
// themselves.
type Logger interface {
	// Error records unexpected failures: lost durable writes, rebuild
	// loader errors, release failures.
	Error(msg string, args ...any)

	// Warn records reconciliation candidates and other degraded-but-running
	// conditions.
	Warn(msg string, args ...any)

	// Debug records verbose diagnostics about cache and lock traffic.
	Debug(msg string, args ...any)
}
