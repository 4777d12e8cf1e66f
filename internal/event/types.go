package event

import "sync"

// SLRChange is emitted whenever the water level is (re)applied.
type SLRChange struct {
	WaterLevel int `json:"waterLevel"`
}

// PortalUserChange is emitted after sign-in or sign-out completes.
type PortalUserChange struct{}

// AnalysisState is the status carried by an AnalysisStatus event.
type AnalysisState string

const (
	AnalysisSuspended    AnalysisState = "suspended"
	AnalysisNotSuspended AnalysisState = "not suspended"
	AnalysisStart        AnalysisState = "start"
	AnalysisEnd          AnalysisState = "end"
)

// AnalysisStatus reports the progress of one asset layer's analysis.
type AnalysisStatus struct {
	LayerID string        `json:"layerId"`
	Status  AnalysisState `json:"status"`
}

// Camera asks the browser view to move.
type Camera struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Zoom    float64 `json:"zoom"`
	Animate bool    `json:"animate"`
}

// Topic names a piece of projected UI state.
type Topic string

const (
	TopicPage       Topic = "page"
	TopicIdentity   Topic = "identity"
	TopicWaterLevel Topic = "waterlevel"
	TopicAssets     Topic = "assets"
	TopicFeatures   Topic = "features"
	TopicTour       Topic = "tour"
	TopicCamera     Topic = "camera"
)

// Change tells projections that state under Topic changed.
type Change struct {
	Topic Topic  `json:"topic"`
	ID    string `json:"id,omitempty"`
}

// Hub bundles the buses shared by one viewer session.
type Hub struct {
	SLR        *Bus[SLRChange]
	PortalUser *Bus[PortalUserChange]
	Analysis   *Bus[AnalysisStatus]
	Camera     *Bus[Camera]
	Changes    *Bus[Change]
}

// NewHub creates a hub with empty buses.
func NewHub() *Hub {
	return &Hub{
		SLR:        NewBus[SLRChange](),
		PortalUser: NewBus[PortalUserChange](),
		Analysis:   NewBus[AnalysisStatus](),
		Camera:     NewBus[Camera](),
		Changes:    NewBus[Change](),
	}
}

// Changed publishes a Change for topic. A nil hub is a no-op.
func (h *Hub) Changed(topic Topic, id string) {
	if h == nil {
		return
	}
	h.Changes.Publish(Change{Topic: topic, ID: id})
}

// Pending coalesces the Changes of a hub by topic for one slow reader. A
// burst of changes collapses into one entry per topic.
type Pending struct {
	mu    sync.Mutex
	order []Topic
	set   map[Topic]struct{}
	wake  chan struct{}
	off   func()
}

// Watch starts collecting changed topics. Call Stop when done.
func (h *Hub) Watch() *Pending {
	p := &Pending{set: make(map[Topic]struct{}), wake: make(chan struct{}, 1)}
	p.off = h.Changes.On(p.add)
	return p
}

func (p *Pending) add(c Change) {
	p.mu.Lock()
	if _, ok := p.set[c.Topic]; !ok {
		p.set[c.Topic] = struct{}{}
		p.order = append(p.order, c.Topic)
	}
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Ready is signalled when topics are waiting to be drained.
func (p *Pending) Ready() <-chan struct{} { return p.wake }

// Drain returns the changed topics in first-changed order and resets the set.
func (p *Pending) Drain() []Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.order
	p.order = nil
	clear(p.set)
	return out
}

// Stop detaches from the hub.
func (p *Pending) Stop() { p.off() }
