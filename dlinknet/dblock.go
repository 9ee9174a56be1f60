package dlinknet

import (
	"fmt"

	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/afperezm/DeepGlobe-Road-Extraction-Challenge/base"
)

// DBlock is the dilated-convolution center block of D-LinkNet. A cascade of
// 3x3 convolutions with dilation rates 1, 2, 4, 8 (and 16 for the more-dilate
// variant) is applied sequentially, each stage consuming the previous stage's
// activation. The output is the input plus the sum of every stage output, so
// the block is channel and resolution preserving while the receptive field
// grows with each stage. Conv biases start at zero.
type DBlock struct {
	dilates []*nn.Conv2D
}

// NewDBlock creates the standard four-stage DBlock over channel channels.
func NewDBlock(p *nn.Path, channel int64) *DBlock {
	return newDBlock(p, channel, []int64{1, 2, 4, 8})
}

// NewDBlockMoreDilate creates the five-stage DBlock with an extra
// dilation-16 stage, used at the 256-channel less-pool bottleneck and the
// 2048-channel bottlenecks of the 50/101 depth tier.
func NewDBlockMoreDilate(p *nn.Path, channel int64) *DBlock {
	return newDBlock(p, channel, []int64{1, 2, 4, 8, 16})
}

func newDBlock(p *nn.Path, channel int64, rates []int64) *DBlock {
	var dilates []*nn.Conv2D
	for i, rate := range rates {
		name := fmt.Sprintf("dilate%d", i+1)
		dilates = append(dilates, base.Conv2dDilated(p.Sub(name), channel, channel, rate))
	}

	return &DBlock{dilates}
}

// ForwardT implements ts.ModuleT for DBlock struct.
func (b *DBlock) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	var sum *ts.Tensor
	prev := x
	for i, dilate := range b.dilates {
		conv := dilate.ForwardT(prev, train)
		if i > 0 {
			prev.MustDrop()
		}
		out := conv.MustRelu(true)
		if i == 0 {
			sum = x.MustAdd(out, false)
		} else {
			sum = sum.MustAdd(out, true)
		}
		prev = out
	}
	prev.MustDrop()

	return sum
}
