package services

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel markers for the failure categories a run can terminate with.
// Every stage wraps its failures with exactly one of these so callers can
// classify a terminal error with errors.Is.
var (
	ErrPlaylist      = errors.New("playlist error")
	ErrKey           = errors.New("key error")
	ErrFetch         = errors.New("fetch error")
	ErrDecrypt       = errors.New("decrypt error")
	ErrAssembly      = errors.New("assembly error")
	ErrTranscode     = errors.New("transcode error")
	ErrConfiguration = errors.New("configuration error")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrConfiguration
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Category returns a short label for the marker carried by err, or "error"
// when the error carries none. The labels match the user-facing taxonomy.
func Category(err error) string {
	switch {
	case errors.Is(err, ErrPlaylist):
		return "playlist"
	case errors.Is(err, ErrKey):
		return "key"
	case errors.Is(err, ErrFetch):
		return "fetch"
	case errors.Is(err, ErrDecrypt):
		return "decrypt"
	case errors.Is(err, ErrAssembly):
		return "assembly"
	case errors.Is(err, ErrTranscode):
		return "transcode"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	default:
		return "error"
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "stage failure"
	}
	return strings.Join(parts, ": ")
}
