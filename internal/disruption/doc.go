// Package disruption holds the notice model, its identity function and the
// reconciliation of observed notices against previously known state.
//
// Everything here is pure in-memory logic: no I/O, no clocks, no errors.
package disruption
