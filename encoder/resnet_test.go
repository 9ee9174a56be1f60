package encoder_test

import (
	"reflect"
	"testing"

	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/afperezm/DeepGlobe-Road-Extraction-Challenge/encoder"
)

func TestResNetEncoderPyramid(t *testing.T) {
	cases := []struct {
		depth    int64
		channels []int64
	}{
		{18, []int64{64, 128, 256, 512}},
		{34, []int64{64, 128, 256, 512}},
		{50, []int64{256, 512, 1024, 2048}},
		{101, []int64{256, 512, 1024, 2048}},
	}

	for _, tc := range cases {
		vs := nn.NewVarStore(gotch.CPU)
		enc, err := encoder.NewResNetEncoder(vs.Root(), tc.depth, 4)
		if err != nil {
			t.Fatalf("depth %v: %v", tc.depth, err)
		}

		if !reflect.DeepEqual(enc.Channels(), tc.channels) {
			t.Errorf("depth %v: want channels %v, got %v", tc.depth, tc.channels, enc.Channels())
		}

		x := ts.MustRand([]int64{1, 3, 64, 64}, gotch.Float, gotch.CPU)
		pyramid := enc.ForwardPyramid(x, false)

		if len(pyramid) != 4 {
			t.Fatalf("depth %v: want 4 pyramid levels, got %v", tc.depth, len(pyramid))
		}

		// strides 4, 8, 16, 32
		for i, f := range pyramid {
			stride := int64(4 << i)
			want := []int64{1, tc.channels[i], 64 / stride, 64 / stride}
			if !reflect.DeepEqual(f.MustSize(), want) {
				t.Errorf("depth %v level %v: want shape %v, got %v", tc.depth, i, want, f.MustSize())
			}
		}

		for _, f := range pyramid {
			f.MustDrop()
		}
		x.MustDrop()
	}
}

func TestResNetEncoderStageCount(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	enc, err := encoder.NewResNetEncoder(vs.Root(), 34, 3)
	if err != nil {
		t.Fatal(err)
	}

	x := ts.MustRand([]int64{1, 3, 64, 64}, gotch.Float, gotch.CPU)
	pyramid := enc.ForwardPyramid(x, false)

	if len(pyramid) != 3 {
		t.Fatalf("want 3 pyramid levels, got %v", len(pyramid))
	}

	want := []int64{1, 256, 4, 4}
	deep := pyramid[len(pyramid)-1]
	if !reflect.DeepEqual(deep.MustSize(), want) {
		t.Errorf("want deepest shape %v, got %v", want, deep.MustSize())
	}

	for _, f := range pyramid {
		f.MustDrop()
	}
	x.MustDrop()
}

func TestResNetEncoderInvalidDepth(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	if _, err := encoder.NewResNetEncoder(vs.Root(), 42, 4); err == nil {
		t.Error("want error for unsupported depth 42")
	}
}

func TestWeightSourceValidate(t *testing.T) {
	valid := []encoder.WeightSource{
		encoder.WeightsRandom,
		encoder.WeightsImageNet,
		encoder.WeightsSeCo100K,
		encoder.WeightsSeCo1M,
	}
	for _, w := range valid {
		if err := w.Validate(); err != nil {
			t.Errorf("source %q: unexpected error %v", w, err)
		}
	}

	if err := encoder.WeightSource("bogus").Validate(); err == nil {
		t.Error("want error for bogus weight source")
	}

	if encoder.WeightsRandom.Pretrained() {
		t.Error("random source must not report pretrained")
	}
	if !encoder.WeightsSeCo1M.Pretrained() {
		t.Error("seco source must report pretrained")
	}
}
