package playlist

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/grafov/m3u8"

	"hls2mp4/internal/services"
)

// Resolver fetches and parses M3U8 documents, following a master playlist
// to its highest-bandwidth media variant.
type Resolver struct {
	client *http.Client
}

// NewResolver constructs a Resolver. A nil client falls back to
// http.DefaultClient.
func NewResolver(client *http.Client) *Resolver {
	if client == nil {
		client = http.DefaultClient
	}
	return &Resolver{client: client}
}

// Resolve loads the root document at source (HTTP(S) URL or local path) and
// returns the media playlist to download. A master playlist resolves to the
// variant with the maximum declared bandwidth, ties broken by first listing.
// Malformed documents, unreachable URIs, and empty variant sets are fatal.
func (r *Resolver) Resolve(ctx context.Context, source string) (*Resolved, error) {
	data, base, err := r.load(ctx, source)
	if err != nil {
		return nil, services.Wrap(services.ErrPlaylist, "resolve", "load", source, err)
	}

	parsed, listType, err := m3u8.DecodeFrom(bytes.NewReader(data), true)
	if err != nil {
		return nil, services.Wrap(services.ErrPlaylist, "resolve", "parse", source, err)
	}

	switch listType {
	case m3u8.MASTER:
		master, ok := parsed.(*m3u8.MasterPlaylist)
		if !ok {
			return nil, services.Wrap(services.ErrPlaylist, "resolve", "parse", "unexpected master playlist type", nil)
		}
		return r.resolveMaster(ctx, master, source, base)
	case m3u8.MEDIA:
		media, ok := parsed.(*m3u8.MediaPlaylist)
		if !ok {
			return nil, services.Wrap(services.ErrPlaylist, "resolve", "parse", "unexpected media playlist type", nil)
		}
		resolved, err := buildMedia(media, source, base)
		if err != nil {
			return nil, err
		}
		return &Resolved{Media: resolved}, nil
	default:
		return nil, services.Wrap(services.ErrPlaylist, "resolve", "parse", fmt.Sprintf("unsupported playlist type %d", listType), nil)
	}
}

func (r *Resolver) resolveMaster(ctx context.Context, master *m3u8.MasterPlaylist, source string, base *url.URL) (*Resolved, error) {
	var best *m3u8.Variant
	count := 0
	for _, v := range master.Variants {
		if v == nil {
			continue
		}
		count++
		// Strict comparison keeps the first-listed variant on ties.
		if best == nil || v.Bandwidth > best.Bandwidth {
			best = v
		}
	}
	if best == nil {
		return nil, services.Wrap(services.ErrPlaylist, "resolve", "select variant", "master playlist has no variants", nil)
	}

	variantURI, err := resolveURI(base, source, best.URI)
	if err != nil {
		return nil, services.Wrap(services.ErrPlaylist, "resolve", "variant uri", best.URI, err)
	}

	data, variantBase, err := r.load(ctx, variantURI)
	if err != nil {
		return nil, services.Wrap(services.ErrPlaylist, "resolve", "load variant", variantURI, err)
	}

	parsed, listType, err := m3u8.DecodeFrom(bytes.NewReader(data), true)
	if err != nil {
		return nil, services.Wrap(services.ErrPlaylist, "resolve", "parse variant", variantURI, err)
	}
	if listType != m3u8.MEDIA {
		return nil, services.Wrap(services.ErrPlaylist, "resolve", "parse variant", "referenced playlist is not a media playlist", nil)
	}
	mediaPlaylist, ok := parsed.(*m3u8.MediaPlaylist)
	if !ok {
		return nil, services.Wrap(services.ErrPlaylist, "resolve", "parse variant", "unexpected media playlist type", nil)
	}

	media, err := buildMedia(mediaPlaylist, variantURI, variantBase)
	if err != nil {
		return nil, err
	}

	return &Resolved{
		Media: media,
		Variant: &Variant{
			URI:        variantURI,
			Bandwidth:  best.Bandwidth,
			Resolution: best.Resolution,
			Codecs:     best.Codecs,
		},
		VariantCount: count,
	}, nil
}

func buildMedia(pl *m3u8.MediaPlaylist, source string, base *url.URL) (*Media, error) {
	media := &Media{Source: source, Base: base}

	// grafov keeps the playlist-level EXT-X-KEY on pl.Key and attaches a
	// fresh Key to the segment that follows any mid-playlist key tag.
	current := pl.Key
	for _, seg := range pl.Segments {
		if seg == nil {
			break
		}
		if seg.Key != nil {
			current = seg.Key
		}

		index := len(media.Segments)
		uri, err := resolveURI(base, source, seg.URI)
		if err != nil {
			return nil, services.Wrap(services.ErrPlaylist, "resolve", "segment uri", seg.URI, err)
		}

		segment := Segment{
			Index:    index,
			URI:      uri,
			Duration: seg.Duration,
		}
		if seg.Limit > 0 {
			segment.ByteRange = &ByteRange{Length: seg.Limit, Offset: seg.Offset}
		}
		if current != nil && !strings.EqualFold(current.Method, "NONE") {
			segment.Encryption = &EncryptionInfo{
				Method: current.Method,
				KeyURI: current.URI,
				IV:     current.IV,
			}
		}
		media.Segments = append(media.Segments, segment)
	}

	if len(media.Segments) == 0 {
		return nil, services.Wrap(services.ErrPlaylist, "resolve", "segments", "media playlist contains no segments", nil)
	}
	return media, nil
}

// load reads the document at source, returning its bytes and the base URL
// for resolving relative references (nil for local paths).
func (r *Resolver) load(ctx context.Context, source string) ([]byte, *url.URL, error) {
	if isRemote(source) {
		base, err := url.Parse(source)
		if err != nil {
			return nil, nil, fmt.Errorf("parse url: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
		if err != nil {
			return nil, nil, err
		}
		resp, err := r.client.Do(req)
		if err != nil {
			return nil, nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, nil, fmt.Errorf("unexpected status %s", resp.Status)
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, nil, err
		}
		return data, base, nil
	}

	data, err := os.ReadFile(source)
	if err != nil {
		return nil, nil, err
	}
	return data, nil, nil
}

func isRemote(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// resolveURI makes uri absolute against either a base URL (remote playlists)
// or the playlist file's directory (local playlists).
func resolveURI(base *url.URL, source, uri string) (string, error) {
	if strings.Contains(uri, "://") {
		return uri, nil
	}
	if base != nil {
		ref, err := url.Parse(uri)
		if err != nil {
			return "", err
		}
		return base.ResolveReference(ref).String(), nil
	}
	if filepath.IsAbs(uri) {
		return uri, nil
	}
	return filepath.Join(filepath.Dir(source), uri), nil
}
