// Package monitor runs check passes: fetch every source, reconcile against
// the known state, announce changes and persist the result.
package monitor
