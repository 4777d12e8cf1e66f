// Package appbase resolves the configured portal items into the immutable
// application context the viewer is bootstrapped from.
package appbase

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/joeblew999/plat-slr/internal/arcgis"
	"github.com/joeblew999/plat-slr/internal/config"
)

// Config is the application shell configuration.
type Config struct {
	Title           string   `json:"title"`
	PortalURL       string   `json:"portalUrl"`
	Locale          string   `json:"locale"`
	Direction       string   `json:"direction"`
	WebMaps         []string `json:"webmaps"`
	WebScenes       []string `json:"webscenes"`
	ApplicationItem string   `json:"applicationItem,omitempty"`
}

// FromConfig extracts the shell settings from the loaded configuration.
func FromConfig(c config.AppConfig) Config {
	return Config{
		Title:           c.Title,
		PortalURL:       c.PortalURL,
		Locale:          c.Locale,
		Direction:       c.Direction,
		WebMaps:         c.WebMaps,
		WebScenes:       c.WebScenes,
		ApplicationItem: c.ApplicationItem,
	}
}

// Item is a portal item with its web map data.
type Item struct {
	Info arcgis.ItemInfo
	Data *arcgis.WebMap
}

// Title returns the item title.
func (i *Item) Title() string {
	if i == nil {
		return ""
	}
	return i.Info.Title
}

// ItemResult is the outcome of loading one item.
type ItemResult struct {
	ID    string
	Value *Item
	Err   error
}

// Results holds every item loaded during Resolve.
type Results struct {
	WebMapItems     []ItemResult
	WebSceneItems   []ItemResult
	ApplicationItem ItemResult
}

// Base is the application context.
type Base struct {
	Config    Config
	Locale    string
	Direction string
	Results   Results
}

// ItemLoader fetches portal items.
type ItemLoader interface {
	// Item returns the item description.
	Item(ctx context.Context, id string) (*arcgis.ItemInfo, error)
	// WebMap returns the item's web map data.
	WebMap(ctx context.Context, id string) (*arcgis.WebMap, error)
}

// PortalLoader loads items from a portal.
type PortalLoader struct {
	Portal *arcgis.Portal
	Token  string
}

// Item implements ItemLoader.
func (l PortalLoader) Item(ctx context.Context, id string) (*arcgis.ItemInfo, error) {
	return l.Portal.Item(ctx, id, l.Token)
}

// WebMap implements ItemLoader.
func (l PortalLoader) WebMap(ctx context.Context, id string) (*arcgis.WebMap, error) {
	var wm arcgis.WebMap
	if err := l.Portal.ItemData(ctx, id, l.Token, &wm); err != nil {
		return nil, err
	}
	return &wm, nil
}

// FileLoader serves every web map id from a local web map JSON document.
// The item title is the file name without its extension.
type FileLoader struct {
	Path string
}

// Item implements ItemLoader.
func (l FileLoader) Item(ctx context.Context, id string) (*arcgis.ItemInfo, error) {
	if _, err := os.Stat(l.Path); err != nil {
		return nil, eris.Wrap(err, "appbase: stat web map file")
	}
	title := strings.TrimSuffix(filepath.Base(l.Path), filepath.Ext(l.Path))
	return &arcgis.ItemInfo{ID: id, Title: title, Type: "Web Map"}, nil
}

// WebMap implements ItemLoader.
func (l FileLoader) WebMap(ctx context.Context, id string) (*arcgis.WebMap, error) {
	data, err := os.ReadFile(l.Path)
	if err != nil {
		return nil, eris.Wrap(err, "appbase: read web map file")
	}
	var wm arcgis.WebMap
	if err := json.Unmarshal(data, &wm); err != nil {
		return nil, eris.Wrap(err, "appbase: decode web map file")
	}
	return &wm, nil
}

// Resolve loads every configured item concurrently. Failures are captured
// per item and never returned.
func Resolve(ctx context.Context, cfg Config, loader ItemLoader) *Base {
	base := &Base{
		Config:    cfg,
		Locale:    cfg.Locale,
		Direction: cfg.Direction,
		Results: Results{
			WebMapItems:   make([]ItemResult, len(cfg.WebMaps)),
			WebSceneItems: make([]ItemResult, len(cfg.WebScenes)),
		},
	}
	if base.Locale == "" {
		base.Locale = "en"
	}
	if base.Direction == "" {
		base.Direction = "ltr"
	}

	var g errgroup.Group
	for i, id := range cfg.WebMaps {
		g.Go(func() error {
			base.Results.WebMapItems[i] = loadItem(ctx, loader, id, true)
			return nil
		})
	}
	for i, id := range cfg.WebScenes {
		g.Go(func() error {
			base.Results.WebSceneItems[i] = loadItem(ctx, loader, id, true)
			return nil
		})
	}
	if cfg.ApplicationItem != "" {
		g.Go(func() error {
			base.Results.ApplicationItem = loadItem(ctx, loader, cfg.ApplicationItem, false)
			return nil
		})
	}
	_ = g.Wait()
	return base
}

func loadItem(ctx context.Context, loader ItemLoader, id string, withData bool) ItemResult {
	res := ItemResult{ID: id}
	info, err := loader.Item(ctx, id)
	if err != nil {
		zap.L().Warn("appbase: item failed", zap.String("item", id), zap.Error(err))
		res.Err = err
		return res
	}
	item := &Item{Info: *info}
	if withData {
		item.Data, err = loader.WebMap(ctx, id)
		if err != nil {
			zap.L().Warn("appbase: item data failed", zap.String("item", id), zap.Error(err))
			res.Err = err
			return res
		}
	}
	res.Value = item
	return res
}

// ValidItems returns the loaded web maps followed by the loaded web scenes,
// skipping failures.
func (b *Base) ValidItems() []*Item {
	var items []*Item
	for _, list := range [][]ItemResult{b.Results.WebMapItems, b.Results.WebSceneItems} {
		for _, r := range list {
			if r.Err == nil && r.Value != nil {
				items = append(items, r.Value)
			}
		}
	}
	return items
}

// AppProxies returns the application item's proxies, if it loaded.
func (b *Base) AppProxies() []arcgis.AppProxy {
	if v := b.Results.ApplicationItem.Value; v != nil {
		return v.Info.AppProxies
	}
	return nil
}
