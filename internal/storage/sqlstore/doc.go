// Package sqlstore implements record.Store and acl.Manager on database/sql.
// The MySQL and SQLite packages supply the connection, the dialect and the
// embedded migrations; every state change runs in one transaction or one
// conditional statement so the store keeps the same atomic units as the
// in-memory implementation.
package sqlstore
