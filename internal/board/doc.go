// Package board hosts the live sheet behind one lock. Every mutation
// goes through Apply, which stamps the resulting changes into a batch,
// records it to history, and hands it to registered consumers once the
// lock is released. Reads take a shared lock and always observe a
// fully recomputed table.
package board
