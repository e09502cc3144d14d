package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
)

// ErrConfiguration reports mismatch between model and label set
var ErrConfiguration = errors.New("model configuration error")

// ClassLabel is facial expression category predicted by the model
type ClassLabel string

// Labels in the index order used during training
var Labels = [...]ClassLabel{
	"angry", "disgust", "fear", "happy", "neutral", "sad", "surprise",
}

// NumLabels is size of the model output vector
const NumLabels = len(Labels)

// Layout of the image tensor
type Layout string

const (
	NHWC Layout = "NHWC"
	NCHW Layout = "NCHW"
)

// Tensor is normalized RGB image data ready for inference
type Tensor struct {
	Data   []float32
	Shape  []int64
	Layout Layout
}

type Metadata struct {
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes"`
	ImageSize   int      `json:"image_size"`
	InputName   string   `json:"input_name"`
	OutputName  string   `json:"output_name"`
}

// Distribution holds probability of every label in label order
type Distribution [NumLabels]float32

// MarshalJSON always emits all labels in label order, values are
// formatted by encoding/json like any other float32 field
func (d Distribution) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, label := range Labels {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(strconv.Quote(string(label)))
		buf.WriteByte(':')
		val, err := json.Marshal(d[i])
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Prediction is the result of a single classification
type Prediction struct {
	Label            ClassLabel   `json:"label"`
	Probability      float32      `json:"probability"`
	AllProbabilities Distribution `json:"all_probabilities"`
}
