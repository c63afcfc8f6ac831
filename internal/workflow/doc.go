// Package workflow orchestrates a full download run: playlist resolution,
// concurrent segment fetch with inline decryption, ordered assembly into a
// transport stream, and the final transcode to MP4.
//
// The Runner owns staging-directory selection and locking, the per-run
// identifier, progress events, and the opt-in run journal and notifications.
// All pipeline state lives on the stack of one Run call; nothing persists
// between runs.
package workflow
