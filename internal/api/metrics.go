package api

import "github.com/prometheus/client_golang/prometheus"

// LibraryMetrics counts catalog and session events. A nil *LibraryMetrics is
// valid and records nothing.
type LibraryMetrics struct {
	BooksAdded      prometheus.Counter
	AddsSkipped     prometheus.Counter
	SessionsOpened  prometheus.Counter
	SessionsExpired prometheus.Counter
}

func NewLibraryMetrics(reg prometheus.Registerer, active func() int) *LibraryMetrics {
	m := &LibraryMetrics{
		BooksAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "library",
			Name:      "books_added_total",
			Help:      "Books appended to a session catalog",
		}),
		AddsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "library",
			Name:      "adds_skipped_total",
			Help:      "Add requests ignored because the draft lacked a title or author",
		}),
		SessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "library",
			Name:      "sessions_opened_total",
			Help:      "Sessions opened",
		}),
		SessionsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "library",
			Name:      "sessions_expired_total",
			Help:      "Sessions discarded after sitting idle",
		}),
	}

	reg.MustRegister(m.BooksAdded, m.AddsSkipped, m.SessionsOpened, m.SessionsExpired)

	if active != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "library",
			Name:      "sessions_active",
			Help:      "Sessions currently held in memory",
		}, func() float64 { return float64(active()) }))
	}
	return m
}

func (m *LibraryMetrics) added(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.BooksAdded.Inc()
	} else {
		m.AddsSkipped.Inc()
	}
}

func (m *LibraryMetrics) opened() {
	if m != nil {
		m.SessionsOpened.Inc()
	}
}

// Expired is wired to the session registry's evict hook.
func (m *LibraryMetrics) Expired() {
	if m != nil {
		m.SessionsExpired.Inc()
	}
}
