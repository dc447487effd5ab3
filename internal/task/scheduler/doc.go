// Package scheduler triggers named jobs on cron expressions or fixed
// intervals. A trigger that fires while the previous run of the same job is
// still in flight is skipped, never queued.
package scheduler
