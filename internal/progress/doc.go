// Package progress delivers phase and percentage updates from a running
// download to a consumer without blocking the pipeline.
package progress
