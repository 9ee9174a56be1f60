package dlinknet_test

import (
	"testing"

	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/afperezm/DeepGlobe-Road-Extraction-Challenge/dlinknet"
	"github.com/afperezm/DeepGlobe-Road-Extraction-Challenge/encoder"
)

func newNet(t *testing.T, cfg dlinknet.Config) *dlinknet.DLinkNet {
	t.Helper()

	vs := nn.NewVarStore(gotch.CPU)
	net, err := dlinknet.New(vs, cfg)
	if err != nil {
		t.Fatalf("building %+v: %v", cfg, err)
	}

	return net
}

func checkProbabilityMap(t *testing.T, out *ts.Tensor, wantShape []int64) {
	t.Helper()

	size := out.MustSize()
	if len(size) != len(wantShape) {
		t.Fatalf("want output shape %v, got %v", wantShape, size)
	}
	for i := range size {
		if size[i] != wantShape[i] {
			t.Fatalf("want output shape %v, got %v", wantShape, size)
		}
	}

	min := out.MustMin(false).Float64Values()[0]
	max := out.MustMax(false).Float64Values()[0]
	if min < 0.0 || max > 1.0 {
		t.Errorf("want probabilities in [0, 1], got range [%v, %v]", min, max)
	}
}

func TestForwardShapeByDepth(t *testing.T) {
	for _, depth := range []int64{18, 34, 50, 101} {
		net := newNet(t, dlinknet.Config{
			Depth:   depth,
			Weights: encoder.WeightsRandom,
			Variant: dlinknet.VariantPlain,
		})

		image := ts.MustRand([]int64{2, 3, 64, 64}, gotch.Float, gotch.CPU)
		out := net.ForwardT(image, false)
		checkProbabilityMap(t, out, []int64{2, 1, 64, 64})

		out.MustDrop()
		image.MustDrop()
	}
}

func TestForwardShapeByVariant(t *testing.T) {
	cases := []struct {
		cfg     dlinknet.Config
		imgSize int64
	}{
		{dlinknet.Config{Depth: 18, Weights: encoder.WeightsRandom, Variant: dlinknet.VariantCBAM}, 64},
		{dlinknet.Config{Depth: 18, Weights: encoder.WeightsRandom, Variant: dlinknet.VariantHeadsV2}, 64},
		{dlinknet.Config{Depth: 18, Weights: encoder.WeightsRandom, Variant: dlinknet.VariantHeadsV3}, 64},
		{dlinknet.Config{Depth: 34, Weights: encoder.WeightsRandom, Variant: dlinknet.VariantLessPool}, 64},
		// heads-v1 re-spatializes its joint embedding over a fixed 8x8
		// grid, which pins the input resolution
		{dlinknet.Config{Depth: 18, Weights: encoder.WeightsRandom, Variant: dlinknet.VariantHeadsV1}, 1024},
	}

	for _, tc := range cases {
		net := newNet(t, tc.cfg)

		image := ts.MustRand([]int64{1, 3, tc.imgSize, tc.imgSize}, gotch.Float, gotch.CPU)
		out := net.ForwardT(image, false)
		checkProbabilityMap(t, out, []int64{1, 1, tc.imgSize, tc.imgSize})

		out.MustDrop()
		image.MustDrop()
	}
}

func TestForwardIdempotentInEvalMode(t *testing.T) {
	net := newNet(t, dlinknet.Config{
		Depth:   18,
		Weights: encoder.WeightsRandom,
		Variant: dlinknet.VariantPlain,
	})

	image := ts.MustRand([]int64{1, 3, 64, 64}, gotch.Float, gotch.CPU)
	first := net.ForwardT(image, false)
	second := net.ForwardT(image, false)

	diff := first.MustSub(second, false).MustAbs(true).MustMax(true).Float64Values()[0]
	if diff != 0.0 {
		t.Errorf("want bit-identical eval-mode outputs, got max abs diff %v", diff)
	}

	first.MustDrop()
	second.MustDrop()
	image.MustDrop()
}

func TestBogusWeightSourceFails(t *testing.T) {
	variants := []dlinknet.Variant{
		dlinknet.VariantPlain,
		dlinknet.VariantCBAM,
		dlinknet.VariantHeadsV1,
		dlinknet.VariantHeadsV2,
		dlinknet.VariantHeadsV3,
	}

	for _, variant := range variants {
		vs := nn.NewVarStore(gotch.CPU)
		_, err := dlinknet.New(vs, dlinknet.Config{
			Depth:   18,
			Weights: encoder.WeightSource("bogus"),
			Variant: variant,
		})
		if err == nil {
			t.Errorf("variant %q: want configuration error for bogus weight source", variant)
		}
	}
}

func TestUnsupportedCombinationsFail(t *testing.T) {
	cases := []dlinknet.Config{
		{Depth: 34, Weights: encoder.WeightsRandom, Variant: dlinknet.VariantCBAM},
		{Depth: 50, Weights: encoder.WeightsRandom, Variant: dlinknet.VariantHeadsV1},
		{Depth: 18, Weights: encoder.WeightsRandom, Variant: dlinknet.VariantLessPool},
		{Depth: 42, Weights: encoder.WeightsRandom, Variant: dlinknet.VariantPlain},
		{Depth: 18, Weights: encoder.WeightsRandom, Variant: dlinknet.Variant("squeeze")},
	}

	for _, cfg := range cases {
		vs := nn.NewVarStore(gotch.CPU)
		if _, err := dlinknet.New(vs, cfg); err == nil {
			t.Errorf("want configuration error for %+v", cfg)
		}
	}
}

func TestPretrainedSourceRequiresCheckpoint(t *testing.T) {
	for _, w := range []encoder.WeightSource{
		encoder.WeightsImageNet,
		encoder.WeightsSeCo100K,
		encoder.WeightsSeCo1M,
	} {
		vs := nn.NewVarStore(gotch.CPU)
		_, err := dlinknet.New(vs, dlinknet.Config{
			Depth:   18,
			Weights: w,
			Variant: dlinknet.VariantPlain,
		})
		if err == nil {
			t.Errorf("weight source %q: want error for missing checkpoint path", w)
		}
	}
}
