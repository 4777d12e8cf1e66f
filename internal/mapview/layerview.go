package mapview

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// LayerView is the drawn state of one layer.
type LayerView struct {
	Layer *Layer

	Updating  *Flag
	Suspended *Flag

	view *View

	mu         sync.Mutex
	highlights map[string]*HighlightHandle
}

func newLayerView(v *View, l *Layer) *LayerView {
	return &LayerView{
		Layer:      l,
		Updating:   NewFlag(false),
		Suspended:  NewFlag(false),
		view:       v,
		highlights: make(map[string]*HighlightHandle),
	}
}

// refresh recomputes Suspended: a layer is suspended when hidden or when the
// view is zoomed out past its min scale.
func (lv *LayerView) refresh() {
	scale := lv.view.Scale()
	minScale := lv.Layer.MinScale()
	suspended := !lv.Layer.Visible.Get() || (minScale > 0 && scale > minScale)
	lv.Suspended.Set(suspended)
}

// Refresh re-evaluates suspension after a layer property change.
func (lv *LayerView) Refresh() { lv.refresh() }

// HighlightHandle releases one highlight.
type HighlightHandle struct {
	ID  string
	IDs []int64

	lv   *LayerView
	once sync.Once
}

// Remove releases the highlight. Calling it more than once is harmless.
func (h *HighlightHandle) Remove() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		h.lv.mu.Lock()
		delete(h.lv.highlights, h.ID)
		h.lv.mu.Unlock()
	})
}

// Highlight marks features as highlighted until the handle is removed.
func (lv *LayerView) Highlight(ids []int64) *HighlightHandle {
	h := &HighlightHandle{ID: uuid.NewString(), IDs: append([]int64(nil), ids...), lv: lv}
	lv.mu.Lock()
	lv.highlights[h.ID] = h
	lv.mu.Unlock()
	return h
}

// ActiveHighlights returns how many highlight handles are alive.
func (lv *LayerView) ActiveHighlights() int {
	lv.mu.Lock()
	defer lv.mu.Unlock()
	return len(lv.highlights)
}

// HighlightedIDs returns the sorted union of highlighted object ids.
func (lv *LayerView) HighlightedIDs() []int64 {
	lv.mu.Lock()
	seen := map[int64]struct{}{}
	for _, h := range lv.highlights {
		for _, id := range h.IDs {
			seen[id] = struct{}{}
		}
	}
	lv.mu.Unlock()

	out := make([]int64, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
