package sim

import (
	"fmt"
	"math"
)

// QoS decisions of a QoSCache.
const (
	DecisionCache    = "cache"
	DecisionLive     = "live"
	DecisionFailFast = "failfast"
)

// DependencyModel keeps rolling windows of observed latency and availability
// of a live dependency. Until a window is full its estimate is the optimistic
// prior (latency 0, availability 1). Once samples stop arriving the estimates
// decay back towards the priors with the configured half-life, so a dependency
// that was written off gets probed again.
type DependencyModel struct {
	capacity     int
	halfLife     int64
	latency      []float64
	availability []float64
	lastSample   int64
}

// NewDependencyModel creates an empty model. A halfLife of 0 disables decay.
func NewDependencyModel(capacity int, halfLife int64) *DependencyModel {
	if capacity < 1 {
		panic(fmt.Sprintf("NewDependencyModel: capacity must be > 0, got %d", capacity))
	}
	if halfLife < 0 {
		panic(fmt.Sprintf("NewDependencyModel: half-life must be non-negative, got %d", halfLife))
	}
	return &DependencyModel{capacity: capacity, halfLife: halfLife}
}

// RecordLatency adds a latency sample observed at tick now.
func (m *DependencyModel) RecordLatency(now int64, ticks float64) {
	m.latency = pushWindow(m.latency, ticks, m.capacity)
	m.lastSample = now
}

// RecordAvailability adds an outcome (1 = success, 0 = failure) observed at tick now.
func (m *DependencyModel) RecordAvailability(now int64, ok bool) {
	v := 0.0
	if ok {
		v = 1
	}
	m.availability = pushWindow(m.availability, v, m.capacity)
	m.lastSample = now
}

// Latency returns the decayed latency estimate at tick now.
func (m *DependencyModel) Latency(now int64) float64 {
	return m.estimate(m.latency, 0, now)
}

// Availability returns the decayed availability estimate at tick now.
func (m *DependencyModel) Availability(now int64) float64 {
	return m.estimate(m.availability, 1, now)
}

// LastSample returns the tick of the most recent sample.
func (m *DependencyModel) LastSample() int64 {
	return m.lastSample
}

func (m *DependencyModel) estimate(window []float64, prior float64, now int64) float64 {
	if len(window) < m.capacity {
		return prior
	}
	sum := 0.0
	for _, v := range window {
		sum += v
	}
	raw := sum / float64(len(window))
	if m.halfLife == 0 || now <= m.lastSample {
		return raw
	}
	weight := math.Pow(0.5, float64(now-m.lastSample)/float64(m.halfLife))
	return prior + weight*(raw-prior)
}

func pushWindow(window []float64, v float64, capacity int) []float64 {
	window = append(window, v)
	if len(window) > capacity {
		window = append(window[:0], window[1:]...)
	}
	return window
}

// QoSCache is a cache decorator that decides per event whether to serve a
// cached value, wait on the live dependency or fail fast, by comparing
// qos(latency, age) = costOfDelay(latency) * utility(age) for each branch:
//
//	live:     qos(modeled latency, 0) * modeled availability
//	cache:    qos(0, age of the cached entry)         (only when cached)
//	failfast: qos(0, 0) * FailFastValue               (only when not cached)
//
// The live path wins ties. Decisions are counted as <name>.cache,
// <name>.live and <name>.failfast.
type QoSCache struct {
	StageCore
	inner Stage
	cfg   QoSConfig
	store *LRU
	model *DependencyModel
}

// NewQoSCache creates a QoS-gated cache around inner.
func NewQoSCache(ctx *SimulationContext, name string, inner Stage, cfg QoSConfig) *QoSCache {
	if inner == nil {
		panic(fmt.Sprintf("NewQoSCache %q: inner stage must not be nil", name))
	}
	checkProbability("NewQoSCache "+name+": fail-fast value", cfg.FailFastValue)
	return &QoSCache{
		StageCore: newStageCore(ctx, name),
		inner:     inner,
		cfg:       cfg,
		store:     NewLRU(ctx.Clock, cfg.Cache),
		model:     NewDependencyModel(cfg.ModelCapacity, cfg.ModelHalfLife),
	}
}

// Accept runs admission and then the QoS decision.
func (q *QoSCache) Accept(ev *Event, done Done) {
	q.process(ev, q, done)
}

// WorkOn takes the branch with the best expected quality.
func (q *QoSCache) WorkOn(ev *Event, done Done) {
	now := q.ctx.Now()
	entry, cached := q.store.Peek(ev.Key)
	decision := q.Decide(now, entry, cached)
	q.ctx.Counters.Add(q.name+"."+decision, 1)

	// only a served entry counts as a hit
	if decision == DecisionCache {
		q.store.Get(ev.Key)
	} else {
		q.store.recordMiss()
	}

	switch decision {
	case DecisionCache:
		serveCached(ev, entry, now)
		done(nil)
	case DecisionFailFast:
		done(fmt.Errorf("%s: %w", q.name, ErrFailFast))
	default:
		q.inner.Accept(ev, func(err error) {
			end := q.ctx.Now()
			q.model.RecordLatency(end, float64(end-now))
			q.model.RecordAvailability(end, err == nil)
			if err == nil {
				q.store.Set(ev.Key, ev.ID)
			}
			done(err)
		})
	}
}

// Decide returns the branch for an event given the cache lookup result.
func (q *QoSCache) Decide(now int64, entry CacheEntry, cached bool) string {
	live := q.QoS(q.model.Latency(now), 0) * q.model.Availability(now)
	if cached {
		if q.QoS(0, float64(now-entry.InsertedAt)) > live {
			return DecisionCache
		}
		return DecisionLive
	}
	if q.QoS(0, 0)*q.cfg.FailFastValue > live {
		return DecisionFailFast
	}
	return DecisionLive
}

// QoS scores an answer of the given latency carrying information of the given age.
func (q *QoSCache) QoS(latency, age float64) float64 {
	return q.costOfDelay(latency) * q.utility(age)
}

func (q *QoSCache) costOfDelay(latency float64) float64 {
	return Sigmoid(latency, q.cfg.LatencyMidpoint, q.cfg.LatencySteepness)
}

func (q *QoSCache) utility(age float64) float64 {
	return Sigmoid(age, q.cfg.AgeMidpoint, q.cfg.AgeSteepness)
}

// Model returns the live dependency model.
func (q *QoSCache) Model() *DependencyModel {
	return q.model
}

// Store returns the backing LRU.
func (q *QoSCache) Store() *LRU {
	return q.store
}

// Inner returns the wrapped stage.
func (q *QoSCache) Inner() Stage {
	return q.inner
}
