package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/example/docpipe/api-go/internal/model"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
	ansiDim    = "\x1b[2m"
)

func shouldColorize(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func renderStatus(status string, class model.Class, colorize bool) string {
	if !colorize {
		return status
	}
	var color string
	switch class {
	case model.ClassSuccess:
		color = ansiGreen
	case model.ClassFailure:
		color = ansiRed
	case model.ClassRunning:
		color = ansiBlue
	case model.ClassPending:
		color = ansiDim
	default:
		color = ansiYellow
	}
	return color + status + ansiReset
}

// relativeTime renders a ledger timestamp as "3 minutes ago".
func relativeTime(ts string, now time.Time) string {
	if ts == "" {
		return "-"
	}
	t, err := time.Parse(model.TimestampLayout, ts)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return ts
		}
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

// summarizeExtra renders an extra map as sorted key=value pairs.
func summarizeExtra(extra map[string]any, limit int) string {
	if len(extra) == 0 {
		return ""
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+formatValue(extra[k]))
	}
	out := strings.Join(parts, " ")
	if limit > 0 && len(out) > limit {
		out = out[:limit-3] + "..."
	}
	return out
}

func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	case nil:
		return "null"
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(raw)
	}
}

// progressSummary counts success-class pipeline stages.
func progressSummary(rec model.StatusRecord) string {
	done := 0
	for _, stage := range model.PipelineStages {
		if entry, ok := rec.States[stage]; ok && model.Classify(entry.Status) == model.ClassSuccess {
			done++
		}
	}
	return fmt.Sprintf("%d/%d", done, len(model.PipelineStages))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
