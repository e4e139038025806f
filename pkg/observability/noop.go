package observability

import "time"

// NoopLogger discards everything; used by tests and embedders that don't
// want engine logging.
type NoopLogger struct{}

// NewNoopLogger returns a Logger that does nothing.
func NewNoopLogger() Logger { return NoopLogger{} }

func (NoopLogger) Debug(string, map[string]interface{}) {}
func (NoopLogger) Info(string, map[string]interface{})  {}
func (NoopLogger) Warn(string, map[string]interface{})  {}
func (NoopLogger) Error(string, map[string]interface{}) {}
func (NoopLogger) Fatal(string, map[string]interface{}) {}
func (NoopLogger) Debugf(string, ...interface{})        {}
func (NoopLogger) Infof(string, ...interface{})         {}
func (NoopLogger) Warnf(string, ...interface{})         {}
func (NoopLogger) Errorf(string, ...interface{})        {}
func (l NoopLogger) With(map[string]interface{}) Logger { return l }
func (l NoopLogger) WithPrefix(string) Logger            { return l }

// NoOpMetricsClient discards everything; used by tests.
type NoOpMetricsClient struct{}

// NewNoOpMetricsClient returns a MetricsClient that does nothing.
func NewNoOpMetricsClient() MetricsClient { return NoOpMetricsClient{} }

func (NoOpMetricsClient) RecordCounter(string, float64, map[string]string)           {}
func (NoOpMetricsClient) RecordGauge(string, float64, map[string]string)             {}
func (NoOpMetricsClient) RecordHistogram(string, float64, map[string]string)         {}
func (NoOpMetricsClient) RecordDuration(string, time.Duration, map[string]string)     {}
func (NoOpMetricsClient) Close() error                                               { return nil }
