// Package assemble merges out-of-order segment payloads into a single
// transport stream file, preserving playlist order.
package assemble
