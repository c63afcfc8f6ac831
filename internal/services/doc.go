// Package services holds the error classification shared by every pipeline
// stage and the clients for external tools the pipeline shells out to.
package services
