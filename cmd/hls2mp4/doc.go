// Command hls2mp4 downloads HLS streams and converts them to MP4 files.
//
// The primary entry point is "hls2mp4 run <playlist-url> -o out.mp4".
// Supporting commands cover tool probing, the run journal, configuration
// management, and notification testing.
package main
