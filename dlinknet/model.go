package dlinknet

import (
	"fmt"

	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/afperezm/DeepGlobe-Road-Extraction-Challenge/encoder"
)

// Variant selects the center-stage composition of the model.
type Variant string

const (
	// VariantPlain is the dilation cascade alone (D-LinkNet proper).
	VariantPlain Variant = "plain"
	// VariantCBAM prepends channel+spatial attention to the cascade.
	VariantCBAM Variant = "cbam"
	// VariantHeadsV1, V2 and V3 fuse contrastive embedding heads into the
	// bottleneck: V1 via an extra encoder stage and a gated join, V2 via
	// broadcast concatenation, V3 via elementwise gating.
	VariantHeadsV1 Variant = "heads-v1"
	VariantHeadsV2 Variant = "heads-v2"
	VariantHeadsV3 Variant = "heads-v3"
	// VariantLessPool keeps only three encoder stages and compensates with
	// an extra dilation stage at the shallower bottleneck.
	VariantLessPool Variant = "less-pool"
)

// embedDim is the projection width of the contrastive embedding heads.
const embedDim int64 = 128

// Config describes one model instance. It is fixed at construction.
type Config struct {
	// Depth of the backbone: 18, 34, 50 or 101.
	Depth int64
	// Weights selects the backbone initialization source.
	Weights encoder.WeightSource
	// Variant selects the center-stage composition.
	Variant Variant
	// CheckpointPath locates the converted `.ot` weight file for a
	// pretrained source. Required whenever Weights is not random.
	CheckpointPath string
	// NumClasses is the number of output probability channels (default 1).
	NumClasses int64
}

func (cfg *Config) validate() error {
	if err := cfg.Weights.Validate(); err != nil {
		return err
	}
	if cfg.Weights.Pretrained() && cfg.CheckpointPath == "" {
		return fmt.Errorf("weight source %q requires a checkpoint path", cfg.Weights)
	}

	switch cfg.Variant {
	case VariantPlain:
		switch cfg.Depth {
		case 18, 34, 50, 101:
		default:
			return fmt.Errorf("variant %q: unsupported backbone depth %v: want 18, 34, 50 or 101",
				cfg.Variant, cfg.Depth)
		}
	case VariantCBAM, VariantHeadsV1, VariantHeadsV2, VariantHeadsV3:
		if cfg.Depth != 18 {
			return fmt.Errorf("variant %q: unsupported backbone depth %v: want 18",
				cfg.Variant, cfg.Depth)
		}
	case VariantLessPool:
		if cfg.Depth != 34 {
			return fmt.Errorf("variant %q: unsupported backbone depth %v: want 34",
				cfg.Variant, cfg.Depth)
		}
	default:
		return fmt.Errorf("unknown variant %q: valid variants are %q, %q, %q, %q, %q, %q",
			cfg.Variant, VariantPlain, VariantCBAM, VariantHeadsV1, VariantHeadsV2,
			VariantHeadsV3, VariantLessPool)
	}

	return nil
}

// DLinkNet is an encoder-decoder road segmentation network: a residual
// backbone, a dilated-convolution center stage and a chain of upsampling
// decoders with additive skip connections.
// Ref. "D-LinkNet: LinkNet with Pretrained Encoder and Dilated Convolution
// for High Resolution Satellite Imagery Road Extraction", CVPRW 2018.
type DLinkNet struct {
	cfg      Config
	encoder  encoder.Encoder
	center   centerStage
	decoders []*DecoderBlock
	head     *OutputHead
}

// New builds a DLinkNet on the root path of vs according to cfg, then
// restores pretrained weights when the configuration calls for them. An
// unrecognized weight source, variant or depth/variant combination is a
// construction error; there is no silent fallback.
func New(vs *nn.VarStore, cfg Config) (*DLinkNet, error) {
	if cfg.NumClasses == 0 {
		cfg.NumClasses = 1
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	p := vs.Root()

	stages := int64(4)
	if cfg.Variant == VariantLessPool {
		stages = 3
	}
	enc, err := encoder.NewResNetEncoder(p, cfg.Depth, stages)
	if err != nil {
		return nil, err
	}

	channels := enc.Channels()
	deepCh := channels[len(channels)-1]

	var center centerStage
	switch cfg.Variant {
	case VariantPlain:
		// the 50/101 tier carries the extra dilation stage
		center = newPlainCenter(p, deepCh, cfg.Depth >= 50)
	case VariantCBAM:
		center = newCBAMCenter(p, deepCh)
	case VariantHeadsV1:
		center = newHeadsV1Center(p, deepCh, embedDim)
	case VariantHeadsV2:
		center = newHeadsV2Center(p, deepCh, embedDim)
	case VariantHeadsV3:
		center = newHeadsV3Center(p, deepCh)
	case VariantLessPool:
		center = newPlainCenter(p, deepCh, true)
	}

	// Decoder chain, deepest first. Heads-v1 carries two extra stages for
	// its deeper bottleneck.
	var decoderChannels []int64
	if cfg.Variant == VariantHeadsV1 {
		decoderChannels = append(decoderChannels, deepCh, deepCh)
	}
	for i := len(channels) - 1; i > 0; i-- {
		decoderChannels = append(decoderChannels, channels[i])
	}
	decoderChannels = append(decoderChannels, channels[0], channels[0])

	var decoders []*DecoderBlock
	n := len(decoderChannels) - 1
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("decoder%d", n-i)
		decoders = append(decoders, NewDecoderBlock(p.Sub(name), decoderChannels[i], decoderChannels[i+1]))
	}

	head := NewOutputHead(p, channels[0], cfg.NumClasses)

	if cfg.Weights.Pretrained() {
		if _, err := vs.LoadPartial(cfg.CheckpointPath); err != nil {
			return nil, fmt.Errorf("loading %q weights from %v: %w", cfg.Weights, cfg.CheckpointPath, err)
		}
	}

	return &DLinkNet{
		cfg:      cfg,
		encoder:  enc,
		center:   center,
		decoders: decoders,
		head:     head,
	}, nil
}

// Config returns the immutable construction configuration.
func (m *DLinkNet) Config() Config {
	return m.cfg
}

// ForwardT implements ts.ModuleT for DLinkNet struct. Input is a
// (B, 3, H, W) batch with H and W divisible by 32; output is a
// (B, numClasses, H, W) map of per-pixel probabilities.
func (m *DLinkNet) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	pyramid := m.encoder.ForwardPyramid(x, train)
	deep := pyramid[len(pyramid)-1]

	extras, cur := m.center.forward(deep, train)

	// Skip levels deepest first: extra center levels, then the encoder
	// pyramid below the center resolution. The innermost decoder stage has
	// no skip.
	levels := append([]*ts.Tensor{}, extras...)
	for i := len(pyramid) - 1; i >= 0; i-- {
		levels = append(levels, pyramid[i])
	}
	skips := levels[len(levels)-(len(m.decoders)-1):]

	for i, dec := range m.decoders {
		var skip *ts.Tensor
		if i < len(skips) {
			skip = skips[i]
		}
		next := dec.ForwardSkip(cur, skip, train)
		cur.MustDrop()
		cur = next
	}

	out := m.head.ForwardT(cur, train)
	cur.MustDrop()

	for _, f := range pyramid {
		f.MustDrop()
	}
	for _, f := range extras {
		f.MustDrop()
	}

	return out
}

// Forward runs an evaluation-mode forward pass.
func (m *DLinkNet) Forward(x *ts.Tensor) *ts.Tensor {
	return m.ForwardT(x, false)
}
