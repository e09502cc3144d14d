package model

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

// ErrInvalidOutput reports model output which is not a probability vector
var ErrInvalidOutput = errors.New("invalid model output")

// NewPrediction picks the most probable label, lowest index wins on ties
func NewPrediction(probs []float32) (*Prediction, error) {
	if len(probs) != NumLabels {
		return nil, fmt.Errorf("%w: got %d probabilities for %d labels", ErrConfiguration, len(probs), NumLabels)
	}
	var p Prediction
	maxIdx := 0
	for i, val := range probs {
		if math.IsNaN(float64(val)) || math.IsInf(float64(val), 0) {
			return nil, fmt.Errorf("%w: %s probability is %v", ErrInvalidOutput, Labels[i], val)
		}
		p.AllProbabilities[i] = val
		if val > probs[maxIdx] {
			maxIdx = i
		}
	}
	p.Label = Labels[maxIdx]
	p.Probability = probs[maxIdx]
	return &p, nil
}

// Validate checks that metadata describes a 7-way classifier over
// 3-channel images
func (m *Metadata) Validate() error {
	if len(m.OutputShape) == 0 || m.OutputShape[len(m.OutputShape)-1] != int64(NumLabels) {
		return fmt.Errorf("%w: output shape %v does not match %d labels", ErrConfiguration, m.OutputShape, NumLabels)
	}
	if size(m.OutputShape) != int64(NumLabels) {
		return fmt.Errorf("%w: output shape %v holds more than one prediction", ErrConfiguration, m.OutputShape)
	}
	if len(m.Classes) > 0 {
		classes := make([]string, NumLabels)
		for i, l := range Labels {
			classes[i] = string(l)
		}
		if !slices.Equal(classes, m.Classes) {
			return fmt.Errorf("%w: classes %v differ from %v", ErrConfiguration, m.Classes, classes)
		}
	}
	if m.ImageSize <= 0 {
		return fmt.Errorf("%w: invalid image size %d", ErrConfiguration, m.ImageSize)
	}
	if _, err := m.Layout(); err != nil {
		return err
	}
	return nil
}

// Layout derives tensor layout from the input shape, either
// [1,H,W,3] or [1,3,H,W]
func (m *Metadata) Layout() (Layout, error) {
	s := int64(m.ImageSize)
	if len(m.InputShape) == 4 && m.InputShape[0] == 1 {
		switch {
		case m.InputShape[1] == s && m.InputShape[2] == s && m.InputShape[3] == 3:
			return NHWC, nil
		case m.InputShape[1] == 3 && m.InputShape[2] == s && m.InputShape[3] == s:
			return NCHW, nil
		}
	}
	return "", fmt.Errorf("%w: input shape %v does not match %dx%d RGB image", ErrConfiguration, m.InputShape, s, s)
}

func size(shape []int64) int64 {
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return n
}
