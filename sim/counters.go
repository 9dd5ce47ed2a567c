package sim

import "sort"

// CounterKind tells how a named counter aggregates.
type CounterKind string

const (
	CounterAdd CounterKind = "add" // running sum + count
	CounterMax CounterKind = "max" // running maximum
)

// Counter is one named line of the aggregator.
type Counter struct {
	Name   string
	Kind   CounterKind
	Value  float64 // sum for CounterAdd, maximum for CounterMax
	Called int     // number of observations
}

// Avg returns Value/Called for add counters and Value for max counters.
func (c Counter) Avg() float64 {
	if c.Kind == CounterAdd && c.Called > 0 {
		return c.Value / float64(c.Called)
	}
	return c.Value
}

// Counters is the named counter aggregator scenarios use to track their own
// statistics alongside the per-stage ones. The first call for a name fixes its
// kind.
//
// Thread-safety: NOT thread-safe, like the rest of a simulation run.
type Counters struct {
	table map[string]*Counter
}

// NewCounters returns an empty aggregator.
func NewCounters() *Counters {
	return &Counters{table: make(map[string]*Counter)}
}

// Add accumulates value into the running sum of name.
func (c *Counters) Add(name string, value float64) {
	line := c.line(name, CounterAdd)
	line.Value += value
	line.Called++
}

// Max raises the running maximum of name to value.
func (c *Counters) Max(name string, value float64) {
	line, ok := c.table[name]
	if !ok {
		line = c.line(name, CounterMax)
		line.Value = value
	}
	line.Value = max(line.Value, value)
	line.Called++
}

func (c *Counters) line(name string, kind CounterKind) *Counter {
	if line, ok := c.table[name]; ok {
		return line
	}
	line := &Counter{Name: name, Kind: kind}
	c.table[name] = line
	return line
}

// Get returns the value of name, or 0 when it was never recorded.
func (c *Counters) Get(name string) float64 {
	if line, ok := c.table[name]; ok {
		return line.Value
	}
	return 0
}

// Lookup returns a copy of the named counter.
func (c *Counters) Lookup(name string) (Counter, bool) {
	line, ok := c.table[name]
	if !ok {
		return Counter{}, false
	}
	return *line, true
}

// Summary returns every counter sorted by name.
func (c *Counters) Summary() []Counter {
	out := make([]Counter, 0, len(c.table))
	for _, line := range c.table {
		out = append(out, *line)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Snapshot returns the value of every counter keyed by name.
func (c *Counters) Snapshot() map[string]float64 {
	out := make(map[string]float64, len(c.table))
	for name, line := range c.table {
		out[name] = line.Value
	}
	return out
}

// Reset drops every counter.
func (c *Counters) Reset() {
	c.table = make(map[string]*Counter)
}
