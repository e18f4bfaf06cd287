package obs

import "github.com/prometheus/client_golang/prometheus"

// RegisterBuildInfo exposes build_info{version,build_date} 1 in reg.
func RegisterBuildInfo(reg prometheus.Registerer, version, buildDate string) {
	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "docvault_build_info",
		Help: "DocVault build information.",
	}, []string{"version", "build_date"})
	reg.MustRegister(g)
	g.WithLabelValues(version, buildDate).Set(1)
}
