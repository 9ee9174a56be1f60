package encoder

import (
	"fmt"

	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"
)

// ResNetEncoder extracts a pyramid of feature maps from a residual network.
// Variable names follow the torchvision layout (`conv1`, `bn1`, `layer1.0.conv1`,
// ...) so converted pretrained checkpoints load with VarStore.LoadPartial.
type ResNetEncoder struct {
	stem     ts.ModuleT
	layers   []ts.ModuleT
	channels []int64
}

// NewResNetEncoder creates a ResNetEncoder of the given depth (18, 34, 50 or
// 101) with the given number of residual stages (1 to 4).
func NewResNetEncoder(p *nn.Path, depth, stages int64) (*ResNetEncoder, error) {
	if stages < 1 || stages > 4 {
		return nil, fmt.Errorf("invalid stage count %v: want 1 to 4", stages)
	}

	var (
		counts     []int64
		bottleneck bool
	)
	switch depth {
	case 18:
		counts = []int64{2, 2, 2, 2}
	case 34:
		counts = []int64{3, 4, 6, 3}
	case 50:
		counts = []int64{3, 4, 6, 3}
		bottleneck = true
	case 101:
		counts = []int64{3, 4, 23, 3}
		bottleneck = true
	default:
		return nil, fmt.Errorf("unsupported backbone depth %v: want 18, 34, 50 or 101", depth)
	}

	widths := []int64{64, 128, 256, 512}
	expansion := int64(1)
	if bottleneck {
		expansion = 4
	}

	var (
		layers   []ts.ModuleT
		channels []int64
	)
	cIn := int64(64)
	for i := int64(0); i < stages; i++ {
		stride := int64(2)
		if i == 0 {
			// layer1 keeps the post-maxpool resolution
			stride = 1
		}
		name := fmt.Sprintf("layer%d", i+1)
		cOut := widths[i] * expansion
		if bottleneck {
			layers = append(layers, bottleneckLayer(p.Sub(name), cIn, widths[i], stride, counts[i]))
		} else {
			layers = append(layers, basicLayer(p.Sub(name), cIn, cOut, stride, counts[i]))
		}
		channels = append(channels, cOut)
		cIn = cOut
	}

	return &ResNetEncoder{
		stem:     stemLayer(p),
		layers:   layers,
		channels: channels,
	}, nil
}

// ForwardPyramid implements Encoder interface for ResNetEncoder.
// It returns one feature map per residual stage, at strides 4, 8, 16, 32.
func (e *ResNetEncoder) ForwardPyramid(x *ts.Tensor, train bool) []*ts.Tensor {
	cur := e.stem.ForwardT(x, train)

	var pyramid []*ts.Tensor
	for _, layer := range e.layers {
		next := layer.ForwardT(cur, train)
		if len(pyramid) == 0 {
			cur.MustDrop()
		}
		pyramid = append(pyramid, next)
		cur = next
	}

	return pyramid
}

// Channels implements Encoder interface for ResNetEncoder.
func (e *ResNetEncoder) Channels() []int64 {
	return e.channels
}

// stemLayer is the initial 7x7 conv + maxpool block, total stride 4.
func stemLayer(p *nn.Path) ts.ModuleT {
	conv1 := conv2dNoBias(p.Sub("conv1"), 3, 64, 7, 3, 2)
	bn1 := nn.BatchNorm2D(p.Sub("bn1"), 64, nn.DefaultBatchNormConfig())
	stem := nn.SeqT()
	stem.Add(conv1)
	stem.Add(bn1)
	stem.AddFn(nn.NewFunc(func(xs *ts.Tensor) *ts.Tensor {
		return xs.MustRelu(false)
	}))
	stem.AddFn(nn.NewFunc(func(xs *ts.Tensor) *ts.Tensor {
		return xs.MustMaxPool2d([]int64{3, 3}, []int64{2, 2}, []int64{1, 1}, []int64{1, 1}, false, false)
	}))

	return stem
}

// BasicLayer stacks cnt basic blocks; the first carries the stage stride.
func basicLayer(path *nn.Path, cIn, cOut, stride, cnt int64) ts.ModuleT {
	layer := nn.SeqT()
	layer.Add(NewBasicBlock(path.Sub("0"), cIn, cOut, stride))
	for blockIndex := int64(1); blockIndex < cnt; blockIndex++ {
		layer.Add(NewBasicBlock(path.Sub(fmt.Sprint(blockIndex)), cOut, cOut, 1))
	}

	return layer
}

func bottleneckLayer(path *nn.Path, cIn, planes, stride, cnt int64) ts.ModuleT {
	layer := nn.SeqT()
	layer.Add(NewBottleneckBlock(path.Sub("0"), cIn, planes, stride))
	for blockIndex := int64(1); blockIndex < cnt; blockIndex++ {
		layer.Add(NewBottleneckBlock(path.Sub(fmt.Sprint(blockIndex)), planes*4, planes, 1))
	}

	return layer
}

func conv2dNoBias(p *nn.Path, cIn, cOut, ksize, padding, stride int64) *nn.Conv2D {
	config := nn.DefaultConv2DConfig()
	config.Bias = false
	config.Stride = []int64{stride, stride}
	config.Padding = []int64{padding, padding}

	return nn.NewConv2D(p, cIn, cOut, ksize, config)
}

func downSample(path *nn.Path, cIn, cOut, stride int64) ts.ModuleT {
	if stride != 1 || cIn != cOut {
		seq := nn.SeqT()
		seq.Add(conv2dNoBias(path.Sub("0"), cIn, cOut, 1, 0, stride))
		seq.Add(nn.BatchNorm2D(path.Sub("1"), cOut, nn.DefaultBatchNormConfig()))

		return seq
	}
	return nn.SeqT()
}

// BasicBlock is the two-conv residual block of the 18/34 depth tier.
type BasicBlock struct {
	Conv1      *nn.Conv2D
	Bn1        *nn.BatchNorm
	Conv2      *nn.Conv2D
	Bn2        *nn.BatchNorm
	Downsample ts.ModuleT
}

func NewBasicBlock(path *nn.Path, cIn, cOut, stride int64) *BasicBlock {
	conv1 := conv2dNoBias(path.Sub("conv1"), cIn, cOut, 3, 1, stride)
	bn1 := nn.BatchNorm2D(path.Sub("bn1"), cOut, nn.DefaultBatchNormConfig())
	conv2 := conv2dNoBias(path.Sub("conv2"), cOut, cOut, 3, 1, 1)
	bn2 := nn.BatchNorm2D(path.Sub("bn2"), cOut, nn.DefaultBatchNormConfig())
	downsample := downSample(path.Sub("downsample"), cIn, cOut, stride)

	return &BasicBlock{conv1, bn1, conv2, bn2, downsample}
}

func (bb *BasicBlock) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	c1 := bb.Conv1.ForwardT(x, train)
	bn1Ts := bb.Bn1.ForwardT(c1, train)
	c1.MustDrop()
	relu := bn1Ts.MustRelu(true)
	c2 := bb.Conv2.ForwardT(relu, train)
	relu.MustDrop()
	bn2Ts := bb.Bn2.ForwardT(c2, train)
	c2.MustDrop()
	dsl := bb.Downsample.ForwardT(x, train)
	dslAdd := dsl.MustAdd(bn2Ts, true)
	bn2Ts.MustDrop()
	res := dslAdd.MustRelu(true)

	return res
}

// BottleneckBlock is the three-conv residual block of the 50/101 depth tier.
// Output channels are planes x 4.
type BottleneckBlock struct {
	Conv1      *nn.Conv2D
	Bn1        *nn.BatchNorm
	Conv2      *nn.Conv2D
	Bn2        *nn.BatchNorm
	Conv3      *nn.Conv2D
	Bn3        *nn.BatchNorm
	Downsample ts.ModuleT
}

func NewBottleneckBlock(path *nn.Path, cIn, planes, stride int64) *BottleneckBlock {
	conv1 := conv2dNoBias(path.Sub("conv1"), cIn, planes, 1, 0, 1)
	bn1 := nn.BatchNorm2D(path.Sub("bn1"), planes, nn.DefaultBatchNormConfig())
	conv2 := conv2dNoBias(path.Sub("conv2"), planes, planes, 3, 1, stride)
	bn2 := nn.BatchNorm2D(path.Sub("bn2"), planes, nn.DefaultBatchNormConfig())
	conv3 := conv2dNoBias(path.Sub("conv3"), planes, planes*4, 1, 0, 1)
	bn3 := nn.BatchNorm2D(path.Sub("bn3"), planes*4, nn.DefaultBatchNormConfig())
	downsample := downSample(path.Sub("downsample"), cIn, planes*4, stride)

	return &BottleneckBlock{conv1, bn1, conv2, bn2, conv3, bn3, downsample}
}

func (bb *BottleneckBlock) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	c1 := bb.Conv1.ForwardT(x, train)
	bn1Ts := bb.Bn1.ForwardT(c1, train)
	c1.MustDrop()
	relu1 := bn1Ts.MustRelu(true)
	c2 := bb.Conv2.ForwardT(relu1, train)
	relu1.MustDrop()
	bn2Ts := bb.Bn2.ForwardT(c2, train)
	c2.MustDrop()
	relu2 := bn2Ts.MustRelu(true)
	c3 := bb.Conv3.ForwardT(relu2, train)
	relu2.MustDrop()
	bn3Ts := bb.Bn3.ForwardT(c3, train)
	c3.MustDrop()
	dsl := bb.Downsample.ForwardT(x, train)
	dslAdd := dsl.MustAdd(bn3Ts, true)
	bn3Ts.MustDrop()
	res := dslAdd.MustRelu(true)

	return res
}
