package dlinknet_test

import (
	"reflect"
	"testing"

	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/afperezm/DeepGlobe-Road-Extraction-Challenge/dlinknet"
)

// constNet predicts probability c at every pixel, invariant to all eight
// TTA transforms.
func constNet(c float64) nn.FuncT {
	return nn.NewFuncT(func(x *ts.Tensor, train bool) *ts.Tensor {
		size := x.MustSize()
		return ts.MustZeros([]int64{size[0], 1, size[2], size[3]}, gotch.Float, gotch.CPU).
			MustAdd1(ts.FloatScalar(c), true)
	})
}

// firstChannelNet copies the first input channel as its prediction, so its
// output transforms exactly as its input does.
func firstChannelNet() nn.FuncT {
	return nn.NewFuncT(func(x *ts.Tensor, train bool) *ts.Tensor {
		return x.MustNarrow(1, 0, 1, false)
	})
}

// The eight views of a transform-invariant network each vote c, so the
// accumulated score is 8c and the decision boundary sits at c = 0.5.
func TestRunTTAConstantNetworkVoting(t *testing.T) {
	cases := []struct {
		c    float64
		want float64
	}{
		{0.9, 1.0},
		{0.51, 1.0},
		{0.49, 0.0},
		{0.1, 0.0},
	}

	for _, tc := range cases {
		img := ts.MustRand([]int64{3, 32, 32}, gotch.Float, gotch.CPU)
		mask := dlinknet.RunTTA(constNet(tc.c), img)

		want := []int64{1, 32, 32}
		if !reflect.DeepEqual(mask.MustSize(), want) {
			t.Fatalf("want mask shape %v, got %v", want, mask.MustSize())
		}

		min := mask.MustMin(false).Float64Values()[0]
		max := mask.MustMax(false).Float64Values()[0]
		if min != tc.want || max != tc.want {
			t.Errorf("vote %v: want uniform mask of %v, got range [%v, %v]", tc.c, tc.want, min, max)
		}

		mask.MustDrop()
		img.MustDrop()
	}
}

// For a network that commutes with the geometric transforms, inverting and
// summing the eight views must reconstruct 8x the single-pass output, so
// the final mask equals the single-pass output thresholded at 0.5. A wrong
// inversion order would misalign the rotated branch and break this.
func TestRunTTAInversionOrder(t *testing.T) {
	img := ts.MustRand([]int64{3, 32, 32}, gotch.Float, gotch.CPU)

	mask := dlinknet.RunTTA(firstChannelNet(), img)

	wantMask := img.MustNarrow(0, 0, 1, false).
		MustGt(ts.FloatScalar(0.5), true).
		MustTotype(gotch.Float, true)

	diff := mask.MustSub(wantMask, false).MustAbs(true).MustMax(true).Float64Values()[0]
	if diff != 0.0 {
		t.Errorf("want mask identical to thresholded single pass, got max abs diff %v", diff)
	}

	wantMask.MustDrop()
	mask.MustDrop()
	img.MustDrop()
}

func TestBatchTTAStacksMasks(t *testing.T) {
	images := ts.MustRand([]int64{3, 3, 32, 32}, gotch.Float, gotch.CPU)

	masks := dlinknet.BatchTTA(constNet(0.9), images)

	want := []int64{3, 1, 32, 32}
	if !reflect.DeepEqual(masks.MustSize(), want) {
		t.Fatalf("want shape %v, got %v", want, masks.MustSize())
	}

	// binary output only
	min := masks.MustMin(false).Float64Values()[0]
	max := masks.MustMax(false).Float64Values()[0]
	if min != 1.0 || max != 1.0 {
		t.Errorf("want all-ones masks for a 0.9 constant network, got range [%v, %v]", min, max)
	}

	masks.MustDrop()
	images.MustDrop()
}
