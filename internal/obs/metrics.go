package obs

// Label is one dimension of a series, such as method="GET".
type Label struct {
	Key   string
	Value string
}

// L builds a Label.
func L(key, value string) Label { return Label{Key: key, Value: value} }

// Meter receives the engine's measurements by series name, without a
// namespace; the implementation decides the prefix. A series keeps the
// label keys of its first observation.
type Meter interface {
	// Counter adds value, which must not be negative.
	Counter(name string, value float64, labels ...Label)
	// Histogram records one observation, in seconds for durations.
	Histogram(name string, value float64, labels ...Label)
	// Gauge moves a gauge up or down by delta.
	Gauge(name string, delta float64, labels ...Label)
}

// NopMeter drops everything; the server uses it when no Meter is set.
type NopMeter struct{}

func (NopMeter) Counter(string, float64, ...Label)   {}
func (NopMeter) Histogram(string, float64, ...Label) {}
func (NopMeter) Gauge(string, float64, ...Label)     {}
