// Package keys resolves AES-128 key material for an encrypted run and
// derives the per-segment initialization vector.
package keys

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"hls2mp4/internal/playlist"
	"hls2mp4/internal/services"
)

const methodAES128 = "AES-128"

// Material holds the decryption inputs for one run: the key bytes and the
// playlist-level IV (nil when the playlist relies on the implicit
// sequence-number rule).
type Material struct {
	Key    []byte
	KeyURI string
	iv     []byte
}

// IVFor returns the 16-byte IV for the given segment: the explicit playlist
// IV when present, otherwise the big-endian encoding of the segment index
// per the HLS implicit-IV rule.
func (m *Material) IVFor(seg playlist.Segment) []byte {
	if len(m.iv) == 16 {
		out := make([]byte, 16)
		copy(out, m.iv)
		return out
	}
	iv := make([]byte, 16)
	binary.BigEndian.PutUint64(iv[8:], uint64(seg.Index))
	return iv
}

// Resolver fetches key material. One key is fetched per run and treated as
// authoritative; key rotation mid-playlist is rejected as unsupported.
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

// Resolve inspects the media playlist and, when encryption is active,
// fetches the key and validates the encryption metadata. It returns nil
// Material for clear content.
func (r *Resolver) Resolve(ctx context.Context, media *playlist.Media) (*Material, error) {
	var info *playlist.EncryptionInfo
	for i := range media.Segments {
		enc := media.Segments[i].Encryption
		if enc == nil {
			continue
		}
		if !strings.EqualFold(enc.Method, methodAES128) {
			return nil, services.Wrap(services.ErrKey, "keys", "method",
				fmt.Sprintf("unsupported encryption method %q", enc.Method), nil)
		}
		if info == nil {
			info = enc
			continue
		}
		// The first key is authoritative for the whole run; a second,
		// differently addressed key tag means rotation, which is out of
		// scope.
		if enc.KeyURI != info.KeyURI {
			return nil, services.Wrap(services.ErrKey, "keys", "rotation",
				fmt.Sprintf("conflicting key URIs %q and %q", info.KeyURI, enc.KeyURI), nil)
		}
	}
	if info == nil {
		return nil, nil
	}
	if strings.TrimSpace(info.KeyURI) == "" {
		return nil, services.Wrap(services.ErrKey, "keys", "uri", "encrypted stream without a key URI", nil)
	}

	keyURI, err := resolveKeyURI(media, info.KeyURI)
	if err != nil {
		return nil, services.Wrap(services.ErrKey, "keys", "uri", info.KeyURI, err)
	}

	key, err := r.fetchKey(ctx, keyURI)
	if err != nil {
		return nil, services.Wrap(services.ErrKey, "keys", "fetch", keyURI, err)
	}
	if len(key) != 16 {
		return nil, services.Wrap(services.ErrKey, "keys", "fetch",
			fmt.Sprintf("key is %d bytes, want 16", len(key)), nil)
	}

	material := &Material{Key: key, KeyURI: keyURI}
	if strings.TrimSpace(info.IV) != "" {
		iv, err := ParseIV(info.IV)
		if err != nil {
			return nil, services.Wrap(services.ErrKey, "keys", "iv", info.IV, err)
		}
		material.iv = iv
	}
	return material, nil
}

// ParseIV decodes an EXT-X-KEY IV attribute (hex, optional 0x prefix) into
// 16 bytes.
func ParseIV(value string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(value), "0x"), "0X")
	iv, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("decode iv hex: %w", err)
	}
	if len(iv) != 16 {
		return nil, fmt.Errorf("iv is %d bytes, want 16", len(iv))
	}
	return iv, nil
}

func resolveKeyURI(media *playlist.Media, keyURI string) (string, error) {
	if strings.Contains(keyURI, "://") || media.Base == nil {
		return keyURI, nil
	}
	ref, err := url.Parse(keyURI)
	if err != nil {
		return "", err
	}
	return media.Base.ResolveReference(ref).String(), nil
}

func (r *Resolver) fetchKey(ctx context.Context, keyURI string) ([]byte, error) {
	if !strings.HasPrefix(keyURI, "http://") && !strings.HasPrefix(keyURI, "https://") {
		return os.ReadFile(keyURI)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, keyURI, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}
