// Package fetch downloads media segments with bounded parallelism, flat
// retry delays, and browser-style request headers.
package fetch
