// Package storage persists the known-notices state between passes.
//
// Drivers share one Store interface; Keeper wraps any of them so that a
// missing or broken store degrades to an empty state instead of an error.
package storage
