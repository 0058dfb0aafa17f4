// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package observer

import (
	"github.com/gomlx/qcalib/pkg/config"
)

// Params holds the flags shared by all the trackers of an Observer.
type Params struct {
	FakeQuantizeEnabled bool
	ObserverEnabled     bool
	TrackQuantStats     bool

	HistogramBins         int
	HistogramUpsampleRate int
}

// ParamsFromConfig returns the Params with the defaults of the configuration.
func ParamsFromConfig(c *config.Config) Params {
	return Params{
		FakeQuantizeEnabled:   c.DefaultFakeQuantizeEnabled,
		ObserverEnabled:       c.DefaultObserverEnabled,
		TrackQuantStats:       c.DefaultTrackQuantStats,
		HistogramBins:         c.DefaultHistogramBins,
		HistogramUpsampleRate: c.DefaultHistogramUpsampleRate,
	}
}

// Serialize returns the flat state of the Params.
func (p *Params) Serialize() State {
	return State{p.FakeQuantizeEnabled, p.ObserverEnabled, p.TrackQuantStats, p.HistogramBins, p.HistogramUpsampleRate}
}

// Deserialize restores the state returned by Serialize.
func (p *Params) Deserialize(state State) error {
	r := newStateReader("Params", state, 5)
	restored := Params{
		FakeQuantizeEnabled:   r.boolean(),
		ObserverEnabled:       r.boolean(),
		TrackQuantStats:       r.boolean(),
		HistogramBins:         r.integer(),
		HistogramUpsampleRate: r.integer(),
	}
	if r.err != nil {
		return r.err
	}
	*p = restored
	return nil
}
