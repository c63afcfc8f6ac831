// Package history keeps an opt-in SQLite journal of past downloads for the
// history command. Nothing in the download pipeline depends on it.
package history
