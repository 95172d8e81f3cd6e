package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "CareBridge build information.",
		},
		[]string{"service", "version"},
	)
)

// InitBuildInfo registers the build_info metric (once) and sets its value
// to 1 for the current service/version pair.
func InitBuildInfo(service, version string) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	buildInfo.WithLabelValues(service, version).Set(1)
}
