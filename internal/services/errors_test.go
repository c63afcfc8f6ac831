package services_test

import (
	"errors"
	"strings"
	"testing"

	"hls2mp4/internal/services"
)

func TestWrapTagsMarker(t *testing.T) {
	cause := errors.New("connection refused")
	err := services.Wrap(services.ErrFetch, "fetch", "segment 3", "exhausted retries", cause)
	if !errors.Is(err, services.ErrFetch) {
		t.Fatalf("expected fetch marker, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
	if !strings.Contains(err.Error(), "segment 3") {
		t.Fatalf("expected operation detail in message, got %q", err.Error())
	}
}

func TestWrapNilMarkerDefaultsToConfiguration(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "stage failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

func TestCategory(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{services.Wrap(services.ErrPlaylist, "resolve", "", "no variants", nil), "playlist"},
		{services.Wrap(services.ErrKey, "keys", "", "unreachable", nil), "key"},
		{services.Wrap(services.ErrDecrypt, "decrypt", "", "bad padding", nil), "decrypt"},
		{services.Wrap(services.ErrAssembly, "assemble", "", "short write", nil), "assembly"},
		{services.Wrap(services.ErrTranscode, "transcode", "", "no backend", nil), "transcode"},
		{errors.New("plain"), "error"},
	}
	for _, tc := range cases {
		if got := services.Category(tc.err); got != tc.want {
			t.Errorf("Category(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
