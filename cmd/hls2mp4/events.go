package main

import (
	"fmt"
	"io"

	"hls2mp4/internal/progress"
)

// renderEvents prints progress updates until the emitter closes. Fetch
// updates collapse onto one line per whole percent to keep output readable
// on slow terminals.
func renderEvents(out io.Writer, emitter *progress.Emitter) {
	lastPercent := -1
	for ev := range emitter.Events() {
		switch ev.Kind {
		case progress.KindFailure:
			fmt.Fprintf(out, "[%s] failed: %s\n", ev.Phase, ev.Message)
		case progress.KindSuccess:
			fmt.Fprintf(out, "[%s] %s\n", ev.Phase, ev.Message)
		default:
			if ev.Fraction > 0 && ev.Fraction < 1 {
				percent := int(ev.Fraction * 100)
				if percent == lastPercent {
					continue
				}
				lastPercent = percent
				fmt.Fprintf(out, "[%s] %3d%% %s\n", ev.Phase, percent, ev.Message)
				continue
			}
			fmt.Fprintf(out, "[%s] %s\n", ev.Phase, ev.Message)
		}
	}
}
