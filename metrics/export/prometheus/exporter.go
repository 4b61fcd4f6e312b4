package prometheus

import (
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/MrEthical07/credcore"
	"github.com/MrEthical07/credcore/metrics/export/internaldefs"
)

// MetricsSource is satisfied by *credcore.Engine.
type MetricsSource interface {
	MetricsSnapshot() credcore.MetricsSnapshot
	AuditDropped() uint64
}

// Option configures a PrometheusExporter.
type Option func(*PrometheusExporter)

// WithConstLabels attaches labels (for example service or instance) to
// every sample. Invalid label names are skipped.
func WithConstLabels(labels map[string]string) Option {
	return func(p *PrometheusExporter) {
		keys := make([]string, 0, len(labels))
		for k := range labels {
			if validLabelName(k) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		var b strings.Builder
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(k)
			b.WriteString(`="`)
			b.WriteString(escapeLabelValue(labels[k]))
			b.WriteByte('"')
		}
		p.constLabels = b.String()
	}
}

// PrometheusExporter renders engine counters in the Prometheus text
// exposition format.
type PrometheusExporter struct {
	source      MetricsSource
	constLabels string
}

// NewPrometheusExporter reads from engine.
func NewPrometheusExporter(engine *credcore.Engine, opts ...Option) *PrometheusExporter {
	return NewPrometheusExporterFromSource(engine, opts...)
}

func NewPrometheusExporterFromSource(source MetricsSource, opts ...Option) *PrometheusExporter {
	p := &PrometheusExporter{source: source}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Handler serves Render on every request.
func (p *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(p.Render()))
	})
}

// Render returns the current exposition. It is empty while metrics are
// disabled on the engine and no audit event was dropped.
func (p *PrometheusExporter) Render() string {
	if p == nil || p.source == nil {
		return ""
	}

	snapshot := p.source.MetricsSnapshot()
	dropped := p.source.AuditDropped()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 {
		return ""
	}

	var b strings.Builder
	b.Grow(4096)

	for _, def := range internaldefs.CounterDefs {
		p.writeHeader(&b, def.Name, def.Help, "counter")
		p.writeSample(&b, def.Name, "", snapshot.Counters[def.ID])
	}

	for _, def := range internaldefs.HistogramDefs {
		raw, ok := snapshot.Histograms[def.ID]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		p.writeHeader(&b, def.Name, def.Help, "histogram")
		for i, le := range internaldefs.HistogramBounds {
			p.writeSample(&b, def.Name+"_bucket", `le="`+le+`"`, cumulative[i])
		}
		p.writeSample(&b, def.Name+"_count", "", cumulative[len(cumulative)-1])
		// The engine keeps bucket counts only.
		p.writeSample(&b, def.Name+"_sum", "", 0)
	}

	p.writeHeader(&b, "credcore_audit_dropped_total", "Audit events dropped because the dispatcher buffer was full.", "counter")
	p.writeSample(&b, "credcore_audit_dropped_total", "", dropped)

	return b.String()
}

func (p *PrometheusExporter) writeHeader(b *strings.Builder, name, help, kind string) {
	b.WriteString("# HELP ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(escapeHelp(help))
	b.WriteString("\n# TYPE ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(kind)
	b.WriteByte('\n')
}

func (p *PrometheusExporter) writeSample(b *strings.Builder, name, labels string, value uint64) {
	b.WriteString(name)
	switch {
	case labels != "" && p.constLabels != "":
		b.WriteByte('{')
		b.WriteString(p.constLabels)
		b.WriteByte(',')
		b.WriteString(labels)
		b.WriteByte('}')
	case labels != "":
		b.WriteByte('{')
		b.WriteString(labels)
		b.WriteByte('}')
	case p.constLabels != "":
		b.WriteByte('{')
		b.WriteString(p.constLabels)
		b.WriteByte('}')
	}
	b.WriteByte(' ')
	b.WriteString(strconv.FormatUint(value, 10))
	b.WriteByte('\n')
}

func escapeHelp(help string) string {
	help = strings.ReplaceAll(help, `\`, `\\`)
	return strings.ReplaceAll(help, "\n", `\n`)
}

func escapeLabelValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	return strings.ReplaceAll(v, "\n", `\n`)
}

// validLabelName reports whether name matches [a-zA-Z_][a-zA-Z0-9_]* and
// is not reserved.
func validLabelName(name string) bool {
	if name == "" || strings.HasPrefix(name, "__") || name == "le" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
