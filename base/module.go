package base

import (
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"
)

// Conv2d creates Conv2D module.
func Conv2d(p *nn.Path, cIn, cOut, ksize, padding, stride int64) *nn.Conv2D {
	config := nn.DefaultConv2DConfig()
	config.Stride = []int64{stride, stride}
	config.Padding = []int64{padding, padding}

	return nn.NewConv2D(p, cIn, cOut, ksize, config)
}

// Conv2dDilated creates a 3x3 Conv2D with the given dilation rate.
// Padding equals dilation so the spatial size is preserved. Bias is
// zero-initialized.
func Conv2dDilated(p *nn.Path, cIn, cOut, dilation int64) *nn.Conv2D {
	config := nn.DefaultConv2DConfig()
	config.Padding = []int64{dilation, dilation}
	config.Dilation = []int64{dilation, dilation}
	config.BsInit = nn.NewConstInit(0.0)

	return nn.NewConv2D(p, cIn, cOut, 3, config)
}

// ConvTranspose2d creates ConvTranspose2D module.
func ConvTranspose2d(p *nn.Path, cIn, cOut, ksize, padding, outPadding, stride int64) *nn.ConvTranspose2D {
	config := nn.DefaultConvTranspose2DConfig()
	config.Stride = []int64{stride, stride}
	config.Padding = []int64{padding, padding}
	config.OutputPadding = []int64{outPadding, outPadding}
	config.BsInit = nn.NewConstInit(0.0)

	return nn.NewConvTranspose2D(p, cIn, cOut, ksize, config)
}

// Conv2dBnRelu creates a SequentialT composing of Conv2D, BatchNorm and a
// ReLU activation.
func Conv2dBnRelu(p *nn.Path, cIn, cOut, ksize, padding, stride int64) *nn.SequentialT {
	seq := nn.SeqT()
	seq.Add(Conv2d(p.Sub("conv"), cIn, cOut, ksize, padding, stride))
	seq.Add(nn.BatchNorm2D(p.Sub("bn"), cOut, nn.DefaultBatchNormConfig()))
	seq.AddFn(nn.NewFunc(func(xs *ts.Tensor) *ts.Tensor {
		return xs.MustRelu(false)
	}))

	return seq
}
