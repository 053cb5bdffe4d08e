package stream

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	pageDuration   metric.Float64Histogram
	pagesFetched   metric.Int64Counter
	hitsFetched    metric.Int64Counter
	recordsEmitted metric.Int64Counter
	recordsSkipped metric.Int64Counter
}

type histogramMetric struct {
	name        string
	description string
	unit        string
	p           *metric.Float64Histogram
}

type counterMetric struct {
	name        string
	description string
	unit        string
	p           *metric.Int64Counter
}

func newMetrics(mp metric.MeterProvider) (*metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter("github.com/pteich/elastic-tap")
	ms := metrics{}

	histograms := []histogramMetric{
		{
			name:        "elasticsearch.search.latency",
			description: "The amount of time a page request took, in seconds.",
			unit:        "s",
			p:           &ms.pageDuration,
		},
	}
	for _, m := range histograms {
		if err := newFloat64Histogram(meter, m); err != nil {
			return nil, err
		}
	}

	counters := []counterMetric{
		{
			name:        "tap.pages.fetched",
			description: "The number of pages fetched from Elasticsearch.",
			p:           &ms.pagesFetched,
		},
		{
			name:        "tap.hits.fetched",
			description: "The number of raw hits received.",
			p:           &ms.hitsFetched,
		},
		{
			name:        "tap.records.emitted",
			description: "The number of records emitted after transformation.",
			p:           &ms.recordsEmitted,
		},
		{
			name:        "tap.records.skipped",
			description: "The number of hits dropped by the transformer.",
			p:           &ms.recordsSkipped,
		},
	}
	for _, m := range counters {
		if err := newInt64Counter(meter, m); err != nil {
			return nil, err
		}
	}

	return &ms, nil
}

func newInt64Counter(meter metric.Meter, c counterMetric) error {
	unit := c.unit
	if unit == "" {
		unit = "1"
	}
	m, err := meter.Int64Counter(
		c.name,
		metric.WithUnit(unit),
		metric.WithDescription(c.description),
	)
	if err != nil {
		return fmt.Errorf("failed creating %s metric: %w", c.name, err)
	}
	*c.p = m
	return nil
}

func newFloat64Histogram(meter metric.Meter, h histogramMetric) error {
	m, err := meter.Float64Histogram(
		h.name,
		metric.WithUnit(h.unit),
		metric.WithDescription(h.description),
	)
	if err != nil {
		return fmt.Errorf("failed creating %s metric: %w", h.name, err)
	}
	*h.p = m
	return nil
}
