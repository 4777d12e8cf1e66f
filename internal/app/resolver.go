package app

import (
	"strings"

	"github.com/joeblew999/plat-slr/internal/arcgis"
	"github.com/joeblew999/plat-slr/internal/mapview"
	"github.com/joeblew999/plat-slr/internal/store"
)

// StoreScheme prefixes layer URLs served from the local feature store.
const StoreScheme = "duckdb://"

// Resolver serves duckdb:// layer URLs from DuckDB and everything else from
// the ArcGIS REST client.
type Resolver struct {
	Client *arcgis.Client
	Store  *store.Store
}

// NewResolver creates a resolver. st may be nil when no local store is used.
func NewResolver(client *arcgis.Client, st *store.Store) *Resolver {
	return &Resolver{Client: client, Store: st}
}

// FeatureSource implements mapview.Resolver.
func (r *Resolver) FeatureSource(url string) arcgis.FeatureSource {
	if id, ok := strings.CutPrefix(url, StoreScheme); ok {
		if r.Store == nil {
			return nil
		}
		return r.Store.Layer(id)
	}
	if r.Client == nil {
		return nil
	}
	return r.Client.FeatureLayer(url)
}

// ImageSource implements mapview.Resolver.
func (r *Resolver) ImageSource(url string) mapview.ImageSource {
	if r.Client == nil || strings.HasPrefix(url, StoreScheme) {
		return nil
	}
	return r.Client.ImageService(url)
}
