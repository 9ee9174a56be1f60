package base

import (
	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"
)

// CBAM is a convolutional block attention module. Channel attention pools
// the feature map globally (average and max), passes both summaries through
// a shared bottleneck MLP and gates channels with their sigmoid sum. Spatial
// attention then convolves the channel-wise average/max statistics into a
// single-channel gate. The gated result is added back to the input.
// Ref. https://arxiv.org/abs/1807.06521
type CBAM struct {
	mlp     *nn.SequentialT
	spatial *nn.Conv2D
}

// NewCBAM creates a CBAM block over cIn channels.
func NewCBAM(p *nn.Path, cIn int64, reductionOpt ...int64) *CBAM {
	var reduction int64 = 16
	if len(reductionOpt) > 0 {
		reduction = reductionOpt[0]
	}

	mlp := nn.SeqT()
	mlp.Add(Conv2d(p.Sub("mlpconv1"), cIn, cIn/reduction, 1, 0, 1))
	mlp.AddFn(nn.NewFunc(func(xs *ts.Tensor) *ts.Tensor {
		return xs.MustRelu(false)
	}))
	mlp.Add(Conv2d(p.Sub("mlpconv2"), cIn/reduction, cIn, 1, 0, 1))

	// 2 input channels: stacked channel mean and channel max
	spatial := Conv2d(p.Sub("spatconv"), 2, 1, 3, 1, 1)

	return &CBAM{mlp: mlp, spatial: spatial}
}

// ForwardT implements ts.ModuleT for CBAM struct.
func (m *CBAM) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	// Channel gate
	avg := x.MustAdaptiveAvgPool2d([]int64{1, 1}, false)
	max, maxIdx := x.MustAdaptiveMaxPool2d([]int64{1, 1}, false)
	maxIdx.MustDrop()
	avgAtt := m.mlp.ForwardT(avg, train)
	avg.MustDrop()
	maxAtt := m.mlp.ForwardT(max, train)
	max.MustDrop()
	chanGate := avgAtt.MustAdd(maxAtt, true).MustSigmoid(true)
	maxAtt.MustDrop()
	chanOut := x.MustMul(chanGate, false)
	chanGate.MustDrop()

	// Spatial gate
	chanMean := chanOut.MustMean1([]int64{1}, true, gotch.Float, false)
	chanMax, chanMaxIdx := chanOut.MustMax1(1, true, false)
	chanMaxIdx.MustDrop()
	stats := ts.MustCat([]ts.Tensor{*chanMean, *chanMax}, 1)
	chanMean.MustDrop()
	chanMax.MustDrop()
	spatGate := m.spatial.ForwardT(stats, train).MustSigmoid(true)
	stats.MustDrop()
	spatOut := chanOut.MustMul(spatGate, true)
	spatGate.MustDrop()

	res := spatOut.MustAdd(x, true)

	return res
}
