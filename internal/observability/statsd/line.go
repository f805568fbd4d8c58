package statsd

import (
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"
)

// metricKind is the StatsD type suffix of a line.
type metricKind string

const (
	kindCount  metricKind = "c"
	kindGauge  metricKind = "g"
	kindTiming metricKind = "ms"
)

var nameReplacer = strings.NewReplacer(" ", "_", "/", "_", ":", "_", "|", "_", "@", "_", "#", "_")

// joinName prefixes a normalised metric name. It returns "" when nothing is left to emit.
func joinName(prefix, name string) string {
	n := normalizeName(name)
	switch {
	case n == "":
		return ""
	case prefix == "":
		return n
	default:
		return prefix + "." + n
	}
}

// normalizeName strips characters that would break the line protocol and collapses empty segments.
func normalizeName(name string) string {
	n := nameReplacer.Replace(strings.TrimSpace(name))
	parts := strings.Split(n, ".")
	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ".")
}

func trimPrefix(prefix string) string {
	return strings.Trim(strings.TrimSpace(prefix), ".")
}

// mergeTags overlays local onto base, dropping blank keys. The result is never nil.
func mergeTags(base, local map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(local))
	for _, src := range []map[string]string{base, local} {
		for k, v := range src {
			if k = strings.TrimSpace(k); k != "" {
				out[k] = strings.TrimSpace(v)
			}
		}
	}
	return out
}

// tagSuffix renders tags in DogStatsD form, sorted by key.
func tagSuffix(tags map[string]string) string {
	if len(tags) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("|#")
	for i, k := range slices.Sorted(maps.Keys(tags)) {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		if v := tags[k]; v != "" {
			b.WriteByte(':')
			b.WriteString(v)
		}
	}
	return b.String()
}

func formatLine(name, value string, kind metricKind, tags map[string]string) string {
	return name + ":" + value + "|" + string(kind) + tagSuffix(tags)
}

func countValue(v int64) string { return strconv.FormatInt(v, 10) }

func gaugeValue(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func timingValue(d time.Duration) string {
	return strconv.FormatFloat(float64(d)/float64(time.Millisecond), 'f', -1, 64)
}
