// Package cache implements a TTL key-value cache backed by a single
// PostgreSQL table. Entries carry an absolute expiration in Unix seconds,
// with zero meaning the entry never expires. Expiration is lazy: reads
// filter dead entries out but leave the rows in place, and CleanupExpired
// is the only operation that physically purges them. This keeps reads free
// of write amplification at the cost of a periodic cleanup pass.
package cache
