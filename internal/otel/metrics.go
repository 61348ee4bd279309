package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all rwm metric instruments.
type Metrics struct {
	RequestDuration metric.Float64Histogram
	RequestErrors   metric.Int64Counter
	CommitsTotal    metric.Int64Counter
	EventsTotal     metric.Int64Counter
	ArtifactsTotal  metric.Int64Counter
	PruneRemovals   metric.Int64Counter
	BundleTokens    metric.Int64Histogram
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.RequestDuration, err = meter.Float64Histogram("rwm.request.duration",
		metric.WithDescription("Request handling duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.RequestErrors, err = meter.Int64Counter("rwm.request.errors",
		metric.WithDescription("Requests that returned an error"),
	)
	if err != nil {
		return nil, err
	}

	m.CommitsTotal, err = meter.Int64Counter("rwm.commits",
		metric.WithDescription("State frames committed"),
	)
	if err != nil {
		return nil, err
	}

	m.EventsTotal, err = meter.Int64Counter("rwm.events",
		metric.WithDescription("Events inserted by commits"),
	)
	if err != nil {
		return nil, err
	}

	m.ArtifactsTotal, err = meter.Int64Counter("rwm.artifacts",
		metric.WithDescription("Artifacts written by commits"),
	)
	if err != nil {
		return nil, err
	}

	m.PruneRemovals, err = meter.Int64Counter("rwm.prune.removed",
		metric.WithDescription("Orphaned artifact bodies removed"),
	)
	if err != nil {
		return nil, err
	}

	m.BundleTokens, err = meter.Int64Histogram("rwm.bundle.tokens",
		metric.WithDescription("Token estimate of composed bundles"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
