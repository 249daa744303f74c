// Package store defines the error taxonomy and database access interfaces
// shared by every component of the data-access layer. It is deliberately
// driver-free: the postgres package owns the translation from native driver
// errors into the types defined here, and all higher layers (transactions,
// cache, migrations) only ever see and propagate these values.
package store
