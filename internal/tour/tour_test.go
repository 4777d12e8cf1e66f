package tour

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-slr/internal/arcgis"
	"github.com/joeblew999/plat-slr/internal/event"
	"github.com/joeblew999/plat-slr/internal/mapview"
)

type locationSource struct {
	labels []string
	query  arcgis.Query
}

func (s *locationSource) Load(ctx context.Context) (*arcgis.LayerInfo, error) {
	return &arcgis.LayerInfo{Name: "Scenario Locations", ObjectIDField: "OBJECTID"}, nil
}

func (s *locationSource) QueryFeatures(ctx context.Context, q arcgis.Query) (*arcgis.FeatureSet, error) {
	s.query = q
	labels := append([]string(nil), s.labels...)
	if len(q.OrderByFields) > 0 {
		sort.Strings(labels)
	}
	fs := &arcgis.FeatureSet{}
	for i, l := range labels {
		fs.Features = append(fs.Features, arcgis.Feature{
			Attributes: map[string]any{"OBJECTID": float64(i + 1), "Label": l},
			Geometry:   orb.Point{float64(i), float64(i)},
		})
	}
	return fs, nil
}

// recorder plays the browser: each GoTo makes the view update briefly.
type recorder struct {
	mu      sync.Mutex
	targets []mapview.Target
	view    *mapview.View
	moved   chan mapview.Target
}

func (r *recorder) GoTo(ctx context.Context, t mapview.Target) error {
	r.mu.Lock()
	r.targets = append(r.targets, t)
	r.mu.Unlock()
	go func() {
		r.view.Updating.Set(true)
		r.view.Updating.Set(false)
		if r.moved != nil {
			r.moved <- t
		}
	}()
	return nil
}

func setup(t *testing.T, pause time.Duration) (*Controller, *recorder) {
	t.Helper()
	rec := &recorder{moved: make(chan mapview.Target, 16)}
	layer := mapview.NewLayer("aoi", "Scenario Locations", mapview.LayerFeature, true).
		WithSource(&locationSource{labels: []string{"Norfolk", "Annapolis", "Miami"}})
	m := &mapview.Map{}
	m.Add(layer)
	view := mapview.NewView(m, rec)
	rec.view = view

	c := NewController(view, event.NewHub(), Options{Pause: pause})
	require.NoError(t, c.Load(context.Background(), layer))
	t.Cleanup(c.Close)
	return c, rec
}

func waitMove(t *testing.T, rec *recorder) mapview.Target {
	t.Helper()
	select {
	case tg := <-rec.moved:
		return tg
	case <-time.After(2 * time.Second):
		t.Fatal("no navigation")
		return mapview.Target{}
	}
}

func TestLoadOrdersByLabel(t *testing.T) {
	c, _ := setup(t, time.Hour)
	snap := c.Snapshot()
	assert.Equal(t, []string{"Annapolis", "Miami", "Norfolk"}, snap.Options)
	assert.Equal(t, "Annapolis", snap.Selected)
	assert.Equal(t, StateIdle, snap.State)
	assert.False(t, snap.Playing)
}

func TestSelectNavigatesWithoutAnimation(t *testing.T) {
	c, rec := setup(t, time.Hour)

	require.NoError(t, c.Select("Miami"))
	tg := waitMove(t, rec)
	assert.Equal(t, 14.0, tg.Zoom)
	assert.False(t, tg.Animate)
	assert.Equal(t, orb.Point{1, 1}, tg.Center)
	assert.Equal(t, "Miami", c.Snapshot().Selected)

	assert.ErrorIs(t, c.Select("Atlantis"), ErrUnknownLabel)
}

func TestAdvanceWraps(t *testing.T) {
	c, _ := setup(t, time.Hour)
	c.Advance()
	c.Advance()
	assert.Equal(t, "Norfolk", c.Snapshot().Selected)
	c.Advance()
	assert.Equal(t, "Annapolis", c.Snapshot().Selected)
}

func TestPlayCyclesAndStops(t *testing.T) {
	c, rec := setup(t, 10*time.Millisecond)

	playing, err := c.TogglePlay()
	require.NoError(t, err)
	assert.True(t, playing)

	var seen []orb.Point
	for i := 0; i < 4; i++ {
		seen = append(seen, waitMove(t, rec).Center)
	}
	// starts at the location after the selection and wraps around
	assert.Equal(t, []orb.Point{{1, 1}, {2, 2}, {0, 0}, {1, 1}}, seen)

	playing, err = c.TogglePlay()
	require.NoError(t, err)
	assert.False(t, playing)
	assert.Equal(t, StateStopped, c.Snapshot().State)
}

func TestNavigateBeforeLoad(t *testing.T) {
	c := NewController(mapview.NewView(&mapview.Map{}, nil), event.NewHub(), Options{})
	_, err := c.TogglePlay()
	assert.ErrorIs(t, err, ErrNotLoaded)
	assert.ErrorIs(t, c.Load(context.Background(), nil), ErrNoLocations)
}

func TestClosedControllerStartsNoCycle(t *testing.T) {
	c, rec := setup(t, time.Hour)
	c.Close()

	assert.ErrorIs(t, c.Select("Miami"), ErrClosed)
	_, err := c.TogglePlay()
	assert.ErrorIs(t, err, ErrClosed)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Empty(t, rec.targets)
}
