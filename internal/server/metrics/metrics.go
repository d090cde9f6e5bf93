// Package metrics counts session decisions, issuances and revocations.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder receives lifecycle events from the session services.
type Recorder interface {
	Decision(kind, reason string)
	Issued()
	Revoked(reason string, n int64)
}

// Noop discards everything.
type Noop struct{}

func (Noop) Decision(string, string) {}
func (Noop) Issued()                 {}
func (Noop) Revoked(string, int64)   {}

// Prometheus is a Recorder backed by its own registry.
type Prometheus struct {
	registry  *prometheus.Registry
	decisions *prometheus.CounterVec
	issued    prometheus.Counter
	revoked   *prometheus.CounterVec
	requests  *prometheus.CounterVec
}

func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sessionkeeper",
			Name:      "session_decisions_total",
			Help:      "Session validation decisions by kind and reject reason.",
		}, []string{"kind", "reason"}),
		issued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sessionkeeper",
			Name:      "refresh_tokens_issued_total",
			Help:      "Refresh tokens issued.",
		}),
		revoked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sessionkeeper",
			Name:      "refresh_tokens_revoked_total",
			Help:      "Active refresh tokens revoked, by reason.",
		}, []string{"reason"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sessionkeeper",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"route", "status"}),
	}

	p.registry.MustRegister(
		p.decisions,
		p.issued,
		p.revoked,
		p.requests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

func (p *Prometheus) Decision(kind, reason string) {
	p.decisions.WithLabelValues(kind, reason).Inc()
}

func (p *Prometheus) Issued() {
	p.issued.Inc()
}

func (p *Prometheus) Revoked(reason string, n int64) {
	if n <= 0 {
		return
	}
	p.revoked.WithLabelValues(reason).Add(float64(n))
}

// Request counts one served HTTP request.
func (p *Prometheus) Request(route string, status int) {
	p.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

// Handler serves the registry in the exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}
