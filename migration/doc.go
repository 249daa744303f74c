// Package migration applies externally supplied, version-ordered SQL
// migrations and tracks the applied versions in a dedicated table. Loading
// and discovery of migration files is deliberately out of scope: callers
// hand the runner an ordered list of records, typically produced by a
// Source implementation, and the runner decides what is pending and applies
// it transactionally.
package migration
