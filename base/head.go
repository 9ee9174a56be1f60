package base

import (
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"
)

// EmbeddingHead is a projection head over a spatial feature map: global
// average pooling followed by a two-layer MLP. It mirrors the projection
// heads of a contrastive pretraining scheme, so its weights can be restored
// from a converted pretraining checkpoint.
type EmbeddingHead struct {
	seq *nn.SequentialT
}

// NewEmbeddingHead creates an EmbeddingHead projecting cIn pooled channels
// to a cOut-dimensional embedding.
func NewEmbeddingHead(p *nn.Path, cIn, cOut int64) *EmbeddingHead {
	seq := nn.SeqT()
	seq.AddFn(nn.NewFunc(func(xs *ts.Tensor) *ts.Tensor {
		pooled := xs.MustAdaptiveAvgPool2d([]int64{1, 1}, false)
		flat := pooled.MustView([]int64{-1, cIn}, true)
		return flat
	}))
	seq.Add(nn.NewLinear(p.Sub("fc1"), cIn, cIn, nn.DefaultLinearConfig()))
	seq.AddFn(nn.NewFunc(func(xs *ts.Tensor) *ts.Tensor {
		return xs.MustRelu(false)
	}))
	seq.Add(nn.NewLinear(p.Sub("fc2"), cIn, cOut, nn.DefaultLinearConfig()))

	return &EmbeddingHead{seq}
}

// NewGateHead creates an EmbeddingHead whose output is squashed to (0,1)
// for multiplicative feature gating.
func NewGateHead(p *nn.Path, cIn, cOut int64) *EmbeddingHead {
	h := NewEmbeddingHead(p, cIn, cOut)
	h.seq.AddFn(nn.NewFunc(func(xs *ts.Tensor) *ts.Tensor {
		return xs.MustSigmoid(false)
	}))

	return h
}

// ForwardT implements ts.ModuleT for EmbeddingHead struct.
// Input (B, cIn, H, W), output (B, cOut).
func (h *EmbeddingHead) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	return h.seq.ForwardT(x, train)
}
