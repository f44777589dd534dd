// Package main prints a one-line status of the live zetacoach session,
// suitable for a shell prompt or terminal status bar.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/thebtf/zetacoach/internal/config"
	"github.com/thebtf/zetacoach/internal/session"
	"github.com/thebtf/zetacoach/pkg/client"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

// queryTimeout keeps the status line fast when the worker is wedged.
const queryTimeout = 150 * time.Millisecond

func main() {
	format := flag.String("format", envOr("ZETACOACH_STATUS_FORMAT", "default"), "Output format: default, compact or minimal")
	port := flag.Int("port", config.GetWorkerPort(), "Worker port")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	// An unreachable worker renders as offline.
	state, _ := client.NewLocal(*port).GetState(ctx)
	fmt.Println(formatStatusLine(state, *format, useColors()))
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// useColors is on unless NO_COLOR is set or TERM is dumb.
// ZETACOACH_STATUS_COLORS forces it either way.
func useColors() bool {
	switch os.Getenv("ZETACOACH_STATUS_COLORS") {
	case "true":
		return true
	case "false":
		return false
	}
	return os.Getenv("NO_COLOR") == "" && os.Getenv("TERM") != "dumb"
}

type palette struct {
	on bool
}

func (p palette) paint(color, s string) string {
	if !p.on {
		return s
	}
	return color + s + colorReset
}

func formatStatusLine(state *session.StateView, format string, colors bool) string {
	p := palette{on: colors}
	if state == nil {
		return p.paint(colorCyan, "[zc]") + " " + p.paint(colorGray, "○")
	}

	switch format {
	case "compact":
		return formatCompact(state, p)
	case "minimal":
		return formatMinimal(state, p)
	default:
		return formatDefault(state, p)
	}
}

func indicator(state *session.StateView, p palette) string {
	switch state.Phase {
	case session.PhaseActive:
		return p.paint(colorGreen, "●")
	case session.PhaseEnding:
		return p.paint(colorYellow, "◐")
	default:
		return p.paint(colorGray, "○")
	}
}

// formatDefault renders e.g. "[zetacoach] ● active | score:12 | solved:12 | avg:1840ms | 17 + 25".
func formatDefault(state *session.StateView, p palette) string {
	result := p.paint(colorCyan, "[zetacoach]") + " " + indicator(state, p) + " " + string(state.Phase)
	if state.Phase == session.PhaseIdle {
		return result
	}

	result += fmt.Sprintf(" | score:%d | solved:%d", state.LastReconciledScore, len(state.Log))
	if avg, ok := averageLatency(state); ok {
		result += fmt.Sprintf(" | avg:%dms", avg)
	}
	if state.CurrentProblem != nil {
		result += " | " + p.paint(colorYellow, *state.CurrentProblem)
	}
	return result
}

// formatCompact renders e.g. "[zc] ● 12/12 (120s)".
func formatCompact(state *session.StateView, p palette) string {
	result := fmt.Sprintf("%s %s %d/%d", p.paint(colorCyan, "[zc]"), indicator(state, p),
		state.LastReconciledScore, len(state.Log))
	if state.InferredDurationSeconds != nil {
		result += fmt.Sprintf(" (%ds)", *state.InferredDurationSeconds)
	}
	return result
}

// formatMinimal renders e.g. "● 12".
func formatMinimal(state *session.StateView, p palette) string {
	return fmt.Sprintf("%s %d", indicator(state, p), state.LastReconciledScore)
}

func averageLatency(state *session.StateView) (int64, bool) {
	if len(state.Log) == 0 {
		return 0, false
	}
	var total int64
	for _, rec := range state.Log {
		total += rec.LatencyMs
	}
	return total / int64(len(state.Log)), true
}
