package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Security-core Prometheus metrics. Standalone package so certificate, trust
// and protocol packages can record without importing each other.

var (
	CertificateChecks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "its_certificate_checks_total",
		Help: "Certificate checks by certificate kind and result",
	}, []string{"kind", "result"})

	PKIExchanges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "its_pki_exchanges_total",
		Help: "Enrollment/authorization exchanges by protocol and outcome",
	}, []string{"protocol", "outcome"})

	TrustChainATs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "its_trust_chain_authorization_tickets",
		Help: "Authorization tickets currently held in the trust chain",
	})
)

// RegisterSecurity registers the security metrics on the given registry (or default if nil).
func RegisterSecurity(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{CertificateChecks, PKIExchanges, TrustChainATs} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
