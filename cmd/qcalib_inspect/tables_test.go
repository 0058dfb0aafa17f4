// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/gomlx/qcalib/pkg/config"
	"github.com/gomlx/qcalib/pkg/core/tensors"
	"github.com/gomlx/qcalib/pkg/quant/observer"
	"github.com/google/go-cmp/cmp"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func calibratedObserver(t *testing.T) *observer.Observer {
	params := observer.ParamsFromConfig(config.Default())
	params.TrackQuantStats = true
	obs := observer.New(params, 2, 2, 3)
	require.NoError(t, obs.SetStaticRange(1, 0, 1))
	for _, x := range []*tensors.Tensor{
		tensors.FromFlatDataAndDimensions([]float64{-1, 1, 0.5}, 1, 3),
		tensors.FromFlatDataAndDimensions([]float64{0, 5}, 1, 2),
	} {
		_ = must.M1(obs.Observe(x, 0, 0, 0, true))
	}
	return obs
}

func TestTables(t *testing.T) {
	obs := calibratedObserver(t)
	statePath := filepath.Join(t.TempDir(), "observer.json")
	require.NoError(t, obs.SaveFile(statePath))
	obs = must.M1(observer.LoadFile(statePath))

	summary := summaryRows(statePath, obs)
	assert.Equal(t, []string{"called", "true"}, summary[1])
	assert.Equal(t, []string{"# tensors", "3"}, summary[4])

	wantRanges := [][]string{
		{"Range", "Float", "Static", "Min", "Max", "Scale"},
		{"0", "true", "false", "-1", "5", formatFloat(5.0 * 128 / 127 / 256)},
		{"1", "?", "true", "0", "1", formatFloat(128.0 / 127 / 256)},
	}
	if diff := cmp.Diff(wantRanges, rangeRows(obs)); diff != "" {
		t.Errorf("range rows (-want +got):\n%s", diff)
	}

	wantShapes := [][]string{
		{"Shape", "Rank", "Dimensions"},
		{"0", "2", "[1, ?]"},
		{"1", "-", "-"},
	}
	if diff := cmp.Diff(wantShapes, shapeRows(obs)); diff != "" {
		t.Errorf("shape rows (-want +got):\n%s", diff)
	}

	stats := statsRows(obs)
	require.Len(t, stats, 2, "only tensor 0 has samples")
	assert.Equal(t, "0", stats[1][0])
	assert.Equal(t, "2", stats[1][1])
}

func TestFormatFloat(t *testing.T) {
	assert.Equal(t, "+Inf", formatFloat(math.Inf(1)))
	assert.Equal(t, "NaN", formatFloat(math.NaN()))
	assert.Equal(t, "0.5", formatFloat(0.5))
	assert.Equal(t, "3", formatFloat(3))
}
