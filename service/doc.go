// Package service owns the order book and serialises every command
// against it through a single goroutine.
//
// Producers on any goroutine call Submit, Cancel, Snapshot and
// TotalVolume; Run applies them one at a time in arrival order. Trades
// are recorded in the outbox for the broadcaster.
package service
