// Package orderbook implements the single-instrument limit order
// matching engine. Resting orders live in two red-black trees of
// price levels (bids and asks), each level a FIFO queue, and every
// submission is matched with price-time priority before it rests.
//
// An OrderBook is single-writer and performs no locking. Callers that
// accept orders from several goroutines must serialize them, see
// package service.
package orderbook
