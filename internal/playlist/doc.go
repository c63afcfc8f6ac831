// Package playlist resolves an M3U8 document into the ordered segment list
// for one run. Master playlists are followed to a single media variant
// before any segment work begins.
package playlist
