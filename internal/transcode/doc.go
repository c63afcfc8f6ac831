// Package transcode selects and drives a transcoding backend, either the
// ffmpeg binary with hardware probing or a transcoder registered by the
// embedding application.
package transcode
