// Package metrics holds Prometheus registration helpers shared by the
// pipeline and broadcaster collectors.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Namespace prefixes every collector exported by the service.
const Namespace = "gherkin_generator"

// Register registers c with reg and returns it. When an identical collector
// is already registered the existing one is returned instead. Any other
// registration error panics.
func Register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if err := reg.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}
