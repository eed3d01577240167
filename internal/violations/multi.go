package violations

import "errors"

// Sink persists violation events
type Sink interface {
	LogViolation(ev Event) error
}

// MultiSink writes every event to all sinks and joins their errors
type MultiSink []Sink

func (m MultiSink) LogViolation(ev Event) error {
	var errs []error
	for _, s := range m {
		if err := s.LogViolation(ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
