package capture

import (
	"database/sql"
	"sync"
	"time"

	"github.com/tabwatch/tabwatch/errors"
)

// Region is a crop rectangle in CSS pixels. DevicePixelRatio converts it
// to physical pixels at crop time. A region with non-positive width or
// height is treated as absent.
type Region struct {
	TabID            string  `json:"tab_id"`
	X                int     `json:"x"`
	Y                int     `json:"y"`
	Width            int     `json:"width"`
	Height           int     `json:"height"`
	DevicePixelRatio float64 `json:"device_pixel_ratio"`
}

// Valid reports whether the region selects a usable area.
func (r *Region) Valid() bool {
	return r != nil && r.Width > 0 && r.Height > 0
}

// RegionStore keeps crop regions in memory for fast lookup during capture
// and mirrors them to SQLite so they survive restarts.
type RegionStore struct {
	db      *sql.DB
	mu      sync.RWMutex
	regions map[string]*Region
}

// NewRegionStore creates a region store and loads persisted regions.
func NewRegionStore(db *sql.DB) (*RegionStore, error) {
	s := &RegionStore{
		db:      db,
		regions: make(map[string]*Region),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *RegionStore) load() error {
	rows, err := s.db.Query(`
		SELECT tab_id, x, y, width, height, device_pixel_ratio
		FROM capture_regions
	`)
	if err != nil {
		return errors.Wrap(err, "failed to load capture regions")
	}
	defer rows.Close()

	for rows.Next() {
		var r Region
		if err := rows.Scan(&r.TabID, &r.X, &r.Y, &r.Width, &r.Height, &r.DevicePixelRatio); err != nil {
			return errors.Wrap(err, "failed to scan capture region")
		}
		s.regions[r.TabID] = &r
	}
	return errors.Wrap(rows.Err(), "failed to iterate capture regions")
}

// Set stores the crop region for a tab, replacing any previous one.
func (s *RegionStore) Set(region *Region) error {
	if region.DevicePixelRatio <= 0 {
		region.DevicePixelRatio = 1.0
	}

	_, err := s.db.Exec(`
		INSERT INTO capture_regions (tab_id, x, y, width, height, device_pixel_ratio, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tab_id) DO UPDATE SET
			x = excluded.x,
			y = excluded.y,
			width = excluded.width,
			height = excluded.height,
			device_pixel_ratio = excluded.device_pixel_ratio,
			updated_at = excluded.updated_at
	`, region.TabID, region.X, region.Y, region.Width, region.Height,
		region.DevicePixelRatio, time.Now().Format(time.RFC3339))
	if err != nil {
		return errors.Wrap(err, "failed to persist capture region")
	}

	s.mu.Lock()
	s.regions[region.TabID] = region
	s.mu.Unlock()
	return nil
}

// Get returns the region for a tab, or nil when none is set.
func (s *RegionStore) Get(tabID string) *Region {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.regions[tabID]
}

// Delete removes the region for a tab. Returns ErrNotFound when no region
// was set.
func (s *RegionStore) Delete(tabID string) error {
	result, err := s.db.Exec("DELETE FROM capture_regions WHERE tab_id = ?", tabID)
	if err != nil {
		return errors.Wrap(err, "failed to delete capture region")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check delete result")
	}
	if affected == 0 {
		return errors.NewNotFoundError("capture region", tabID)
	}

	s.mu.Lock()
	delete(s.regions, tabID)
	s.mu.Unlock()
	return nil
}

// List returns all stored regions.
func (s *RegionStore) List() []*Region {
	s.mu.RLock()
	defer s.mu.RUnlock()

	regions := make([]*Region, 0, len(s.regions))
	for _, r := range s.regions {
		regions = append(regions, r)
	}
	return regions
}
