// Package metrics counts consensus and dissemination events. Export of the
// registry is the embedding process's concern; the core only increments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "alpenglow"

// ConsensusMetrics observes the certificate engine.
type ConsensusMetrics interface {
	VoteProcessed(status string)
	CertificateFormed(certType string)
	EquivocationDetected()
	ViewAdvanced()
}

// RotorMetrics observes dissemination and repair.
type RotorMetrics interface {
	ShredsEncoded(count int)
	BlockDecoded()
	DecodeFailed()
	RepairRequested(indices int)
	BlockAbandoned()
}

// Collector is the prometheus-backed implementation of all metric surfaces.
type Collector struct {
	votes          *prometheus.CounterVec
	certificates   *prometheus.CounterVec
	equivocations  prometheus.Counter
	viewAdvances   prometheus.Counter
	shredsEncoded  prometheus.Counter
	blocksDecoded  prometheus.Counter
	decodeFailures prometheus.Counter
	repairRequests prometheus.Counter
	abandoned      prometheus.Counter
}

var _ ConsensusMetrics = (*Collector)(nil)
var _ RotorMetrics = (*Collector)(nil)

// NewCollector constructs the collector and registers its series with the
// given registerer.
func NewCollector(registerer prometheus.Registerer) *Collector {
	c := &Collector{
		votes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "votor",
			Name:      "votes_processed_total",
			Help:      "votes processed, partitioned by submission status",
		}, []string{"status"}),
		certificates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "votor",
			Name:      "certificates_formed_total",
			Help:      "certificates formed, partitioned by type",
		}, []string{"type"}),
		equivocations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "votor",
			Name:      "equivocations_detected_total",
			Help:      "validators flagged for double voting",
		}),
		viewAdvances: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "votor",
			Name:      "view_advances_total",
			Help:      "view advancements driven by timeout or skip",
		}),
		shredsEncoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rotor",
			Name:      "shreds_encoded_total",
			Help:      "erasure-coded fragments produced",
		}),
		blocksDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rotor",
			Name:      "blocks_decoded_total",
			Help:      "blocks successfully reconstructed from fragments",
		}),
		decodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rotor",
			Name:      "decode_failures_total",
			Help:      "reconstruction attempts that failed",
		}),
		repairRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rotor",
			Name:      "repair_requests_total",
			Help:      "repair requests emitted for missing fragments",
		}),
		abandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rotor",
			Name:      "blocks_abandoned_total",
			Help:      "pending blocks dropped at their slot deadline",
		}),
	}
	registerer.MustRegister(
		c.votes, c.certificates, c.equivocations, c.viewAdvances,
		c.shredsEncoded, c.blocksDecoded, c.decodeFailures,
		c.repairRequests, c.abandoned,
	)
	return c
}

func (c *Collector) VoteProcessed(status string)      { c.votes.WithLabelValues(status).Inc() }
func (c *Collector) CertificateFormed(certType string) {
	c.certificates.WithLabelValues(certType).Inc()
}
func (c *Collector) EquivocationDetected() { c.equivocations.Inc() }
func (c *Collector) ViewAdvanced()         { c.viewAdvances.Inc() }

func (c *Collector) ShredsEncoded(count int)   { c.shredsEncoded.Add(float64(count)) }
func (c *Collector) BlockDecoded()             { c.blocksDecoded.Inc() }
func (c *Collector) DecodeFailed()             { c.decodeFailures.Inc() }
func (c *Collector) RepairRequested(indices int) {
	c.repairRequests.Add(float64(indices))
}
func (c *Collector) BlockAbandoned() { c.abandoned.Inc() }
