package main

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/os32c/internal/os32c"
)

func quarterScan() os32c.ScanRecord {
	return os32c.ScanRecord{
		AngleMin:       0,
		AngleIncrement: math.Pi / 2,
		RangeMin:       os32c.DistanceMin,
		RangeMax:       os32c.DistanceMax,
		Ranges:         []float32{1, 2, 0, 50, 3},
	}
}

func TestCartesian(t *testing.T) {
	pts := cartesian(quarterScan())
	require.Len(t, pts, 3, "blocked and no-return beams dropped")

	assert.InDelta(t, 1, pts[0].X, 1e-9)
	assert.InDelta(t, 0, pts[0].Y, 1e-9)
	assert.InDelta(t, 0, pts[1].X, 1e-9)
	assert.InDelta(t, 2, pts[1].Y, 1e-9)
	// beam 4 is a full turn
	assert.InDelta(t, 3, pts[2].X, 1e-9)
	assert.InDelta(t, 0, pts[2].Y, 1e-9)
}

func TestPlotScan_WritesPNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.png")
	require.NoError(t, plotScan(quarterScan(), "test", path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Greater(t, len(data), 8)
	assert.Equal(t, "\x89PNG\r\n\x1a\n", string(data[:8]))
}

func TestPlotScan_NoReturns(t *testing.T) {
	rec := quarterScan()
	rec.Ranges = []float32{0, 50}
	path := filepath.Join(t.TempDir(), "empty.png")
	assert.NoError(t, plotScan(rec, "empty", path))
}

func TestReadScan_MissingCapture(t *testing.T) {
	_, err := readScan(context.Background(), filepath.Join(t.TempDir(), "missing.pcap"), "", 2222, 0)
	assert.Error(t, err)
}
