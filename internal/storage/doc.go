// Package storage is the durable layer: the schedule queue plus the user
// registry and destination catalog. It is pure data access; delivery policy
// lives in the scheduler and publish packages.
package storage
