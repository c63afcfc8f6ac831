// Package ffmpeg wraps the ffmpeg binary for acceleration probing and
// transport-stream to MP4 transcoding.
package ffmpeg
