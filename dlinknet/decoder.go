package dlinknet

import (
	"log"
	"reflect"

	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/afperezm/DeepGlobe-Road-Extraction-Challenge/base"
)

// DecoderBlock is one upsampling stage of the D-LinkNet decoder: a 1x1
// bottleneck to cIn/4 channels, a stride-2 transposed conv doubling the
// spatial size, and a 1x1 expansion to cOut channels, each followed by
// batch norm and ReLU.
type DecoderBlock struct {
	Conv1   *nn.Conv2D
	Norm1   *nn.BatchNorm
	Deconv2 *nn.ConvTranspose2D
	Norm2   *nn.BatchNorm
	Conv3   *nn.Conv2D
	Norm3   *nn.BatchNorm
}

// NewDecoderBlock creates a DecoderBlock mapping cIn to cOut channels.
func NewDecoderBlock(p *nn.Path, cIn, cOut int64) *DecoderBlock {
	mid := cIn / 4

	return &DecoderBlock{
		Conv1:   base.Conv2d(p.Sub("conv1"), cIn, mid, 1, 0, 1),
		Norm1:   nn.BatchNorm2D(p.Sub("norm1"), mid, nn.DefaultBatchNormConfig()),
		Deconv2: base.ConvTranspose2d(p.Sub("deconv2"), mid, mid, 3, 1, 1, 2),
		Norm2:   nn.BatchNorm2D(p.Sub("norm2"), mid, nn.DefaultBatchNormConfig()),
		Conv3:   base.Conv2d(p.Sub("conv3"), mid, cOut, 1, 0, 1),
		Norm3:   nn.BatchNorm2D(p.Sub("norm3"), cOut, nn.DefaultBatchNormConfig()),
	}
}

// ForwardT implements ts.ModuleT for DecoderBlock struct.
func (d *DecoderBlock) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	c1 := d.Conv1.ForwardT(x, train)
	n1 := d.Norm1.ForwardT(c1, train)
	c1.MustDrop()
	r1 := n1.MustRelu(true)
	c2 := d.Deconv2.ForwardT(r1, train)
	r1.MustDrop()
	n2 := d.Norm2.ForwardT(c2, train)
	c2.MustDrop()
	r2 := n2.MustRelu(true)
	c3 := d.Conv3.ForwardT(r2, train)
	r2.MustDrop()
	n3 := d.Norm3.ForwardT(c3, train)
	c3.MustDrop()
	res := n3.MustRelu(true)

	return res
}

// ForwardSkip forwards x through the block and adds the encoder skip of
// matching resolution. A shape mismatch with the skip tensor is fatal.
func (d *DecoderBlock) ForwardSkip(x, skip *ts.Tensor, train bool) *ts.Tensor {
	out := d.ForwardT(x, train)
	if skip == nil {
		return out
	}

	if !reflect.DeepEqual(out.MustSize(), skip.MustSize()) {
		log.Fatalf("skip connection shape mismatch: decoder %v vs encoder %v\n",
			out.MustSize(), skip.MustSize())
	}

	return out.MustAdd(skip, true)
}

// OutputHead restores full input resolution and maps decoder features to
// per-pixel class probabilities through a final sigmoid.
type OutputHead struct {
	Deconv1 *nn.ConvTranspose2D
	Conv2   *nn.Conv2D
	Conv3   *nn.Conv2D
}

// NewOutputHead creates an OutputHead consuming cIn channels and emitting
// numClasses probability channels.
func NewOutputHead(p *nn.Path, cIn, numClasses int64) *OutputHead {
	return &OutputHead{
		Deconv1: base.ConvTranspose2d(p.Sub("finaldeconv1"), cIn, 32, 4, 1, 0, 2),
		Conv2:   base.Conv2d(p.Sub("finalconv2"), 32, 32, 3, 1, 1),
		Conv3:   base.Conv2d(p.Sub("finalconv3"), 32, numClasses, 3, 1, 1),
	}
}

// ForwardT implements ts.ModuleT for OutputHead struct.
func (h *OutputHead) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	d1 := h.Deconv1.ForwardT(x, train)
	r1 := d1.MustRelu(true)
	c2 := h.Conv2.ForwardT(r1, train)
	r1.MustDrop()
	r2 := c2.MustRelu(true)
	c3 := h.Conv3.ForwardT(r2, train)
	r2.MustDrop()
	res := c3.MustSigmoid(true)

	return res
}
