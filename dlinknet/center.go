package dlinknet

import (
	"fmt"
	"log"

	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/afperezm/DeepGlobe-Road-Extraction-Challenge/base"
	"github.com/afperezm/DeepGlobe-Road-Extraction-Challenge/encoder"
)

// centerStage transforms the deepest encoder feature map into the decoder
// input. Implementations may also synthesize extra pyramid levels (deepest
// first) that the decoder consumes as additional skip connections; the
// caller owns the returned tensors.
type centerStage interface {
	forward(deep *ts.Tensor, train bool) (extras []*ts.Tensor, out *ts.Tensor)
}

// plainCenter is the dilation cascade alone.
type plainCenter struct {
	dblock *DBlock
}

func newPlainCenter(p *nn.Path, channel int64, moreDilate bool) *plainCenter {
	if moreDilate {
		return &plainCenter{NewDBlockMoreDilate(p.Sub("dblock"), channel)}
	}
	return &plainCenter{NewDBlock(p.Sub("dblock"), channel)}
}

func (c *plainCenter) forward(deep *ts.Tensor, train bool) ([]*ts.Tensor, *ts.Tensor) {
	return nil, c.dblock.ForwardT(deep, train)
}

// cbamCenter reweights the deepest feature map with channel and spatial
// attention before the dilation cascade.
type cbamCenter struct {
	ablock *base.CBAM
	dblock *DBlock
}

func newCBAMCenter(p *nn.Path, channel int64) *cbamCenter {
	return &cbamCenter{
		ablock: base.NewCBAM(p.Sub("ablock"), channel, channel/64),
		dblock: NewDBlock(p.Sub("dblock"), channel),
	}
}

func (c *cbamCenter) forward(deep *ts.Tensor, train bool) ([]*ts.Tensor, *ts.Tensor) {
	attn := c.ablock.ForwardT(deep, train)
	out := c.dblock.ForwardT(attn, train)
	attn.MustDrop()

	return nil, out
}

// headsV1Center pushes the encoder one stride deeper, projects three
// contrastive embedding heads from that stage, re-spatializes the joint
// embedding and fuses it with the downsampled features through a gating
// join before the dilation cascade. The 8x8 re-spatialization constant
// assumes 1024x1024 inputs.
type headsV1Center struct {
	encoder5    ts.ModuleT
	head1       *base.EmbeddingHead
	head2       *base.EmbeddingHead
	head3       *base.EmbeddingHead
	featEncoder *nn.SequentialT
	gateEncoder *nn.SequentialT
	joinEncoder *nn.SequentialT
	dblock      *DBlock
}

func newHeadsV1Center(p *nn.Path, channel, embedDim int64) *headsV1Center {
	encoder5 := nn.SeqT()
	encoder5.Add(encoder.NewBasicBlock(p.Sub("encoder5").Sub("0"), channel, channel, 2))
	encoder5.Add(encoder.NewBasicBlock(p.Sub("encoder5").Sub("1"), channel, channel, 1))

	return &headsV1Center{
		encoder5:    encoder5,
		head1:       base.NewEmbeddingHead(p.Sub("head1"), channel, embedDim),
		head2:       base.NewEmbeddingHead(p.Sub("head2"), channel, embedDim),
		head3:       base.NewEmbeddingHead(p.Sub("head3"), channel, embedDim),
		featEncoder: base.Conv2dBnRelu(p.Sub("featencoder"), channel, channel, 3, 1, 2),
		gateEncoder: base.Conv2dBnRelu(p.Sub("gateencoder"), 6, channel, 1, 0, 1),
		joinEncoder: base.Conv2dBnRelu(p.Sub("joinencoder"), 2*channel, channel, 1, 0, 1),
		dblock:      NewDBlock(p.Sub("dblock"), channel),
	}
}

// embedGridSize is the spatial grid the joint head embedding reshapes to.
// 3 heads x 128 dims = 6 channels x 8 x 8 cells.
const embedGridSize int64 = 8

// checkEmbedGrid verifies the deepest feature map matches the fixed
// re-spatialization grid, which pins heads-v1 to 1024x1024 inputs.
func checkEmbedGrid(size []int64) error {
	if len(size) != 4 || size[2] != embedGridSize || size[3] != embedGridSize {
		return fmt.Errorf("heads-v1 re-spatializes its embedding over an %vx%v grid (1024x1024 inputs); got deepest feature map %v",
			embedGridSize, embedGridSize, size)
	}

	return nil
}

func (c *headsV1Center) forward(deep *ts.Tensor, train bool) ([]*ts.Tensor, *ts.Tensor) {
	e5 := c.encoder5.ForwardT(deep, train)
	if err := checkEmbedGrid(e5.MustSize()); err != nil {
		log.Fatal(err)
	}

	h0 := c.head1.ForwardT(e5, train)
	h1 := c.head2.ForwardT(e5, train)
	h2 := c.head3.ForwardT(e5, train)

	h := ts.MustCat([]ts.Tensor{*h0, *h1, *h2}, 1)
	h0.MustDrop()
	h1.MustDrop()
	h2.MustDrop()
	// 3 x embedDim = 6*8*8 spatial cells
	hs := h.MustView([]int64{-1, 6, 8, 8}, true)

	f := c.featEncoder.ForwardT(e5, train)
	hEnc := c.gateEncoder.ForwardT(hs, train)
	hs.MustDrop()

	g := ts.MustCat([]ts.Tensor{*f, *hEnc}, 1)
	f.MustDrop()
	hEnc.MustDrop()
	joined := c.joinEncoder.ForwardT(g, train)
	g.MustDrop()

	out := c.dblock.ForwardT(joined, train)
	joined.MustDrop()

	return []*ts.Tensor{e5}, out
}

// headsV2Center broadcasts the three head embeddings to spatial form,
// concatenates them with the deepest feature map along channels and merges
// back to the bottleneck width before the dilation cascade.
type headsV2Center struct {
	head1        *base.EmbeddingHead
	head2        *base.EmbeddingHead
	head3        *base.EmbeddingHead
	mergeEncoder *nn.SequentialT
	dblock       *DBlock
}

func newHeadsV2Center(p *nn.Path, channel, embedDim int64) *headsV2Center {
	return &headsV2Center{
		head1:        base.NewEmbeddingHead(p.Sub("head1"), channel, embedDim),
		head2:        base.NewEmbeddingHead(p.Sub("head2"), channel, embedDim),
		head3:        base.NewEmbeddingHead(p.Sub("head3"), channel, embedDim),
		mergeEncoder: base.Conv2dBnRelu(p.Sub("mergeencoder"), 3*embedDim+channel, channel, 3, 1, 1),
		dblock:       NewDBlock(p.Sub("dblock"), channel),
	}
}

func (c *headsV2Center) forward(deep *ts.Tensor, train bool) ([]*ts.Tensor, *ts.Tensor) {
	h0 := c.head1.ForwardT(deep, train)
	h1 := c.head2.ForwardT(deep, train)
	h2 := c.head3.ForwardT(deep, train)

	size := deep.MustSize()

	h := ts.MustCat([]ts.Tensor{*h0, *h1, *h2}, 1)
	h0.MustDrop()
	h1.MustDrop()
	h2.MustDrop()
	hSpat := h.MustUnsqueeze(2, true).MustUnsqueeze(3, true).
		MustRepeat([]int64{1, 1, size[2], size[3]}, true)

	cat := ts.MustCat([]ts.Tensor{*hSpat, *deep}, 1)
	hSpat.MustDrop()
	merged := c.mergeEncoder.ForwardT(cat, train)
	cat.MustDrop()

	out := c.dblock.ForwardT(merged, train)
	merged.MustDrop()

	return nil, out
}

// headsV3Center gates the deepest feature map with a single sigmoid head,
// e4 + e4*h, before the dilation cascade.
type headsV3Center struct {
	head   *base.EmbeddingHead
	dblock *DBlock
}

func newHeadsV3Center(p *nn.Path, channel int64) *headsV3Center {
	return &headsV3Center{
		head:   base.NewGateHead(p.Sub("head2"), channel, channel),
		dblock: NewDBlock(p.Sub("dblock"), channel),
	}
}

func (c *headsV3Center) forward(deep *ts.Tensor, train bool) ([]*ts.Tensor, *ts.Tensor) {
	h := c.head.ForwardT(deep, train)
	hSpat := h.MustUnsqueeze(2, true).MustUnsqueeze(3, true)

	gated := deep.MustMul(hSpat, false)
	hSpat.MustDrop()
	fused := gated.MustAdd(deep, true)

	out := c.dblock.ForwardT(fused, train)
	fused.MustDrop()

	return nil, out
}
