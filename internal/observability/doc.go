// Package observability owns prometheus metrics and admin HTTP middleware.
package observability
