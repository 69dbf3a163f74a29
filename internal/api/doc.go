// Package api exposes the ledger over HTTP. Mutating and owner-scoped routes
// require a signed request; metadata, listings and the balance are public.
package api
