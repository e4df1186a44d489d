// Package notifier owns the notification delivery subsystem.
//
// Callers submit pending requests to a FIFO queue. A throttled dispatcher
// commits at most one request per ThrottleInterval into a capped,
// newest-first store and fires the delivery side effects (sound and a system
// notification).
//
// # Persistence
//
// Every store mutation writes the full collection through to a
// storage.Store, so a restart recovers the last committed state. The sound
// preference is persisted separately.
//
// # Side effects
//
// SoundPlayer and SystemNotifier are narrow capabilities injected at
// construction. Their failures are logged at debug level and published on the
// event bus; they never fail a dispatch.
package notifier
