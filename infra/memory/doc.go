// Package memory recycles objects the matching loop allocates on
// every resting order. Orders removed from the book (filled or
// cancelled) go back to a Pool and are reused by the next order that
// rests.
package memory
