package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestRegisterSecurity_Idempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, RegisterSecurity(reg))
	require.NoError(t, RegisterSecurity(reg))

	TrustChainATs.Set(3)
	PKIExchanges.WithLabelValues("enrollment", "ok").Inc()

	families, err := reg.Gather()
	require.NoError(t, err)
	got := map[string]float64{}
	for _, f := range families {
		for _, m := range f.GetMetric() {
			switch {
			case m.GetGauge() != nil:
				got[f.GetName()] = m.GetGauge().GetValue()
			case m.GetCounter() != nil:
				got[f.GetName()] += m.GetCounter().GetValue()
			}
		}
	}
	require.Equal(t, float64(3), got["its_trust_chain_authorization_tickets"])
	require.GreaterOrEqual(t, got["its_pki_exchanges_total"], float64(1))
}
