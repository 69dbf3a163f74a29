// Package mysql opens the MySQL connection pool, applies the embedded schema
// migrations and exposes the ledger's record store and capability table
// backed by MySQL.
package mysql
