// Package history persists change batches so past sheet activity can
// be inspected later. Two durable stores exist (sqlite and postgres)
// plus a no-op store for deployments that run without a history
// database. Decimal values are stored as text and absent cells as SQL
// NULL, so round-trips preserve both exact values and absence.
package history
