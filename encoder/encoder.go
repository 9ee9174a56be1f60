package encoder

import (
	"fmt"

	ts "github.com/sugarme/gotch/tensor"
)

// WeightSource selects how backbone weights are initialized.
type WeightSource string

const (
	// WeightsRandom leaves the backbone freshly initialized.
	WeightsRandom WeightSource = "random"
	// WeightsImageNet restores weights from a converted ImageNet classifier
	// checkpoint.
	WeightsImageNet WeightSource = "imagenet"
	// WeightsSeCo100K and WeightsSeCo1M restore weights from seasonal
	// contrast self-supervised pretraining checkpoints (100k / 1m images).
	WeightsSeCo100K WeightSource = "seco-100k"
	WeightsSeCo1M   WeightSource = "seco-1m"
)

// Validate returns a configuration error for an unrecognized weight source.
func (w WeightSource) Validate() error {
	switch w {
	case WeightsRandom, WeightsImageNet, WeightsSeCo100K, WeightsSeCo1M:
		return nil
	default:
		return fmt.Errorf("unknown weight source %q: valid sources are %q, %q, %q, %q",
			w, WeightsRandom, WeightsImageNet, WeightsSeCo100K, WeightsSeCo1M)
	}
}

// Pretrained reports whether the source restores weights from a checkpoint.
func (w WeightSource) Pretrained() bool {
	return w != WeightsRandom
}

// Encoder is encoder interface for an image segmentation model. It produces
// a pyramid of feature maps at strides 4, 8, 16, ... relative to the input.
type Encoder interface {
	ForwardPyramid(x *ts.Tensor, train bool) []*ts.Tensor

	// Channels lists the channel depth of each pyramid level.
	Channels() []int64
}
