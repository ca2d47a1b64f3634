package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabwatch/tabwatch/errors"
	qtesting "github.com/tabwatch/tabwatch/internal/testing"
)

func TestRegionSetGetDelete(t *testing.T) {
	db := qtesting.CreateTestDB(t)
	store, err := NewRegionStore(db)
	require.NoError(t, err)

	require.NoError(t, store.Set(&Region{TabID: "tab-1", X: 1, Y: 2, Width: 3, Height: 4, DevicePixelRatio: 2}))

	r := store.Get("tab-1")
	require.NotNil(t, r)
	assert.Equal(t, 3, r.Width)
	assert.Equal(t, 2.0, r.DevicePixelRatio)

	require.NoError(t, store.Delete("tab-1"))
	assert.Nil(t, store.Get("tab-1"))

	err = store.Delete("tab-1")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestRegionsSurviveReload(t *testing.T) {
	db := qtesting.CreateTestDB(t)

	store, err := NewRegionStore(db)
	require.NoError(t, err)
	require.NoError(t, store.Set(&Region{TabID: "tab-1", X: 5, Y: 6, Width: 7, Height: 8, DevicePixelRatio: 1.5}))

	// A fresh store over the same database sees the persisted region
	reloaded, err := NewRegionStore(db)
	require.NoError(t, err)

	r := reloaded.Get("tab-1")
	require.NotNil(t, r)
	assert.Equal(t, 5, r.X)
	assert.Equal(t, 1.5, r.DevicePixelRatio)
	assert.Len(t, reloaded.List(), 1)
}

func TestRegionDefaultsPixelRatio(t *testing.T) {
	db := qtesting.CreateTestDB(t)
	store, err := NewRegionStore(db)
	require.NoError(t, err)

	require.NoError(t, store.Set(&Region{TabID: "tab-1", X: 0, Y: 0, Width: 10, Height: 10}))
	assert.Equal(t, 1.0, store.Get("tab-1").DevicePixelRatio)
}
