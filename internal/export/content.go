// Package export computes desired state: the content metadata and learner
// completion records that should exist in a channel right now.
package export

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"channel-sync/internal/audit"
	"channel-sync/internal/catalog"
	"channel-sync/internal/channel"
	"channel-sync/internal/domain"
	"channel-sync/internal/metrics"
)

// CatalogFetch describes how one catalog contributed to an export: either a
// full metadata fetch or a replay of the cached set after the update-only
// check. The orchestrator commits catalog marks from these after a successful
// transmission.
type CatalogFetch struct {
	CatalogID    string
	LastModified time.Time
	Fetched      bool
}

// ContentExporter resolves a channel configuration's catalogs and produces
// the channel-transformed desired-state set.
type ContentExporter struct {
	Catalog  catalog.Service
	Store    *audit.Store
	PageSize int
	Log      zerolog.Logger
}

// Export returns the desired content set for cfg, sorted by content key.
// A catalog whose last-modified timestamp has not advanced since the last
// successful full transmission is not re-fetched; its cached set is replayed.
// Any collaborator failure fails the whole unit of work — no partial set is
// returned silently.
func (e *ContentExporter) Export(ctx context.Context, cfg domain.ChannelConfiguration, client channel.Client) ([]domain.ContentItem, []CatalogFetch, error) {
	catalogs := cfg.Catalogs
	if len(catalogs) == 0 {
		var err error
		catalogs, err = e.Catalog.CatalogsForCustomer(ctx, cfg.Customer)
		if err != nil {
			return nil, nil, fmt.Errorf("export: resolve catalogs: %w", err)
		}
	}

	fullResync := cfg.FullResync || client.FullResync()
	pageSize := e.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}

	byKey := map[string]domain.ContentItem{}
	fetches := make([]CatalogFetch, 0, len(catalogs))

	for _, catalogID := range catalogs {
		lastModified, err := e.Catalog.LastModified(ctx, catalogID)
		if err != nil {
			return nil, nil, fmt.Errorf("export: freshness of catalog %s: %w", catalogID, err)
		}

		items, fetched, err := e.catalogItems(ctx, cfg, catalogID, lastModified, fullResync, pageSize)
		if err != nil {
			return nil, nil, err
		}
		if fetched {
			metrics.CatalogFetches.WithLabelValues(client.Name()).Inc()
		} else {
			metrics.CatalogFetchSkipped.WithLabelValues(client.Name()).Inc()
		}

		for _, item := range items {
			if _, dup := byKey[item.Key]; dup {
				continue
			}
			byKey[item.Key] = item
		}
		fetches = append(fetches, CatalogFetch{
			CatalogID:    catalogID,
			LastModified: lastModified,
			Fetched:      fetched,
		})
	}

	out := make([]domain.ContentItem, 0, len(byKey))
	for _, item := range byKey {
		remoteID, err := e.remoteID(cfg.ID, client, item.Key)
		if err != nil {
			return nil, nil, err
		}
		item.RemoteID = remoteID
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, fetches, nil
}

func (e *ContentExporter) catalogItems(ctx context.Context, cfg domain.ChannelConfiguration, catalogID string, lastModified time.Time, fullResync bool, pageSize int) ([]domain.ContentItem, bool, error) {
	if !fullResync {
		mark, err := e.Store.CatalogMark(cfg.ID, catalogID)
		if err != nil {
			return nil, false, err
		}
		if mark != nil && !lastModified.After(mark.LastModified) {
			cached, err := e.Store.CachedCatalogItems(cfg.ID, catalogID)
			if err != nil {
				return nil, false, err
			}
			if cached != nil {
				e.Log.Debug().
					Str("catalog", catalogID).
					Time("last_modified", lastModified).
					Msg("catalog unchanged, replaying cached set")
				return cached, false, nil
			}
			// Mark without cache (e.g. store migration): fall through to fetch.
		}
	}

	items, err := e.Catalog.ContentMetadata(ctx, catalogID, pageSize)
	if err != nil {
		return nil, false, fmt.Errorf("export: fetch catalog %s: %w", catalogID, err)
	}
	if err := e.Store.PutCachedCatalogItems(cfg.ID, catalogID, items); err != nil {
		return nil, false, err
	}
	return items, true, nil
}

// remoteID applies the channel keying scheme. Keys whose transformed
// identifier would exceed the channel's limit are mapped through the stable
// surrogate table instead of being truncated, preserving uniqueness.
func (e *ContentExporter) remoteID(configID string, client channel.Client, key string) (string, error) {
	id := TransformKey(key)
	if max := client.MaxRemoteIDLength(); max > 0 && len(id) > max {
		surrogate, err := e.Store.SurrogateID(configID, key)
		if err != nil {
			return "", err
		}
		return surrogate, nil
	}
	return id, nil
}

// TransformKey maps a natural content key onto the conservative identifier
// alphabet every supported channel accepts.
func TransformKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-' || r == '_':
			return r
		default:
			return '+'
		}
	}, strings.TrimSpace(key))
}
