package pipeline

import "errors"

// MultiTransport emits every event on each transport in order
type MultiTransport []Transport

func (m MultiTransport) Emit(event string, payload any) {
	for _, t := range m {
		t.Emit(event, payload)
	}
}

// MultiMetricsSink records every sample in each sink and joins their errors
type MultiMetricsSink []MetricsSink

func (m MultiMetricsSink) LogMetrics(sample MetricsSample) error {
	var errs []error
	for _, s := range m {
		if err := s.LogMetrics(sample); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DiscardTransport drops every event
type DiscardTransport struct{}

func (DiscardTransport) Emit(string, any) {}

var (
	_ Transport   = MultiTransport(nil)
	_ Transport   = DiscardTransport{}
	_ MetricsSink = MultiMetricsSink(nil)
)
