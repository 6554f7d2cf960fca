package main

import (
	"log"
	"os"
	"strings"

	"dataprep/internal/metrics"
	"dataprep/internal/metrics/datadog"
	"dataprep/internal/metrics/prompush"
)

const (
	defaultPushGatewayURL = "http://localhost:9091"
	defaultDogStatsDAddr  = "127.0.0.1:8125"
)

// firstNonEmpty returns the flag value, else the environment variable, else def.
func firstNonEmpty(flag, env, def string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return def
}

// setupMetrics installs the selected metrics backend and returns the function
// that flushes it at the end of the run. A backend that fails to initialize
// leaves metrics disabled; the run itself is not affected.
func setupMetrics(f flags, job string) func() {
	nop := func() {}

	name := strings.ToLower(firstNonEmpty(f.metricsBackend, "METRICS_BACKEND", "none"))
	var (
		b   metrics.Backend
		err error
	)
	switch name {
	case "pushgateway":
		url := firstNonEmpty(f.pushGatewayURL, "PUSHGATEWAY_URL", defaultPushGatewayURL)
		b, err = prompush.NewBackend(job, url)
		if err == nil {
			log.Printf("metrics: backend=%s url=%s job=%s", name, url, job)
		}
	case "datadog":
		addr := firstNonEmpty(f.dogstatsdAddr, "DD_DOGSTATSD_ADDR", defaultDogStatsDAddr)
		b, err = datadog.NewBackend(datadog.Config{
			Addr:       addr,
			GlobalTags: []string{"service:dataprep"},
		})
		if err == nil {
			log.Printf("metrics: backend=%s addr=%s job=%s", name, addr, job)
		}
	case "", "none":
		if f.verbose {
			log.Printf("metrics: disabled")
		}
		return nop
	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", name)
		return nop
	}
	if err != nil {
		log.Printf("metrics: init %s backend: %v; metrics disabled", name, err)
		return nop
	}

	metrics.SetBackend(b)
	return func() {
		if err := metrics.Flush(); err != nil {
			log.Printf("metrics: flush: %v", err)
		}
	}
}
