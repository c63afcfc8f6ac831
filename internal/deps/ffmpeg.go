package deps

import (
	"context"
	"strings"

	"hls2mp4/internal/services/ffmpeg"
)

// CheckFFmpeg reports the ffmpeg binary the transcode stage will execute and,
// when one is found, the acceleration path its encoders support.
func CheckFFmpeg(ctx context.Context, binary string) Status {
	name := strings.TrimSpace(binary)
	if name == "" {
		name = "ffmpeg"
	}

	result := CheckBinaries(Requirements(name))[0]
	if !result.Available {
		return result
	}

	client := ffmpeg.NewCLI(ffmpeg.WithBinary(name))
	switch client.DetectAccel(ctx) {
	case ffmpeg.AccelNVIDIA:
		result.Detail = "hardware encoding via h264_nvenc"
	case ffmpeg.AccelAMD:
		result.Detail = "hardware encoding via h264_amf"
	default:
		result.Detail = "software encoding via libx264"
	}
	return result
}
