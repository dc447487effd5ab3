// Package notifier delivers disruption notifications to webhook sinks.
//
// A notification is one Notice plus a Kind (new or resolved). The Service
// formats it once and hands the Message to every configured Sink: the Discord
// webhook and, optionally, a Telegram chat mirror.
//
// # Delivery
//
// Delivery is best-effort. Sink failures are logged, counted and published on
// the event bus, then dropped. There is no retry and no queue; consecutive
// notifications are spaced by a fixed delay so the webhook is not flooded.
//
// # History
//
// For operator visibility (/status), the service keeps a small in-memory
// history of recent deliveries.
package notifier
