// Package httpapi serves the health, readiness, status and metrics endpoints.
package httpapi
