// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package observer

import (
	"math"

	"github.com/gomlx/qcalib/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Stats accumulates the quantization error of one tensor across calls.
type Stats struct {
	count   int
	sqnrSum float64
	l1Sum   float64
}

// Update adds one sample: the reference tensor and its quantized version.
func (s *Stats) Update(ref, quantized *tensors.Tensor) error {
	noise, err := tensors.Distance(ref, quantized, 2)
	if err != nil {
		return errors.WithMessage(err, "quantization stats")
	}
	l1, err := tensors.Distance(ref, quantized, 1)
	if err != nil {
		return errors.WithMessage(err, "quantization stats")
	}
	sqnr := math.Inf(1)
	if noise > 0 {
		sqnr = 20 * math.Log10(ref.Norm()/noise)
	}
	s.count++
	s.sqnrSum += sqnr
	s.l1Sum += l1
	return nil
}

// Count returns the number of samples.
func (s *Stats) Count() int { return s.count }

// MeanSQNR returns the mean signal-to-quantization-noise ratio in dB, 20*log10(‖ref‖/‖ref-quantized‖),
// or 0 if there are no samples. A sample without any quantization noise counts as +Inf.
func (s *Stats) MeanSQNR() float64 {
	if s.count == 0 {
		return 0
	}
	return s.sqnrSum / float64(s.count)
}

// MeanL1 returns the mean L1 error ‖ref-quantized‖₁, or 0 if there are no samples.
func (s *Stats) MeanL1() float64 {
	if s.count == 0 {
		return 0
	}
	return s.l1Sum / float64(s.count)
}

// Serialize returns the flat state: [count, sqnrSum, l1Sum].
func (s *Stats) Serialize() State {
	return State{s.count, s.sqnrSum, s.l1Sum}
}

// Deserialize restores the state returned by Serialize.
func (s *Stats) Deserialize(state State) error {
	r := newStateReader("Stats", state, 3)
	restored := Stats{count: r.integer(), sqnrSum: r.float(), l1Sum: r.float()}
	if r.err != nil {
		return r.err
	}
	if restored.count < 0 {
		return errors.Errorf("Stats state has negative count %d", restored.count)
	}
	*s = restored
	return nil
}
