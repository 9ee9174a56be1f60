package dlinknet_test

import (
	"fmt"
	"math"
	"reflect"
	"testing"

	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/afperezm/DeepGlobe-Road-Extraction-Challenge/dlinknet"
)

func TestDBlockShapePreserving(t *testing.T) {
	for _, channel := range []int64{4, 16, 64} {
		vs := nn.NewVarStore(gotch.CPU)
		db := dlinknet.NewDBlock(vs.Root().Sub("dblock"), channel)

		x := ts.MustRand([]int64{1, channel, 16, 16}, gotch.Float, gotch.CPU)
		out := db.ForwardT(x, false)

		if !reflect.DeepEqual(x.MustSize(), out.MustSize()) {
			t.Errorf("channel %v: want shape %v, got %v", channel, x.MustSize(), out.MustSize())
		}

		out.MustDrop()
		x.MustDrop()
	}
}

func TestDBlockMoreDilateShapePreserving(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	db := dlinknet.NewDBlockMoreDilate(vs.Root().Sub("dblock"), 8)

	x := ts.MustRand([]int64{2, 8, 32, 32}, gotch.Float, gotch.CPU)
	out := db.ForwardT(x, false)

	if !reflect.DeepEqual(x.MustSize(), out.MustSize()) {
		t.Errorf("want shape %v, got %v", x.MustSize(), out.MustSize())
	}

	out.MustDrop()
	x.MustDrop()
}

// identityKernel builds a (c, c, 3, 3) conv weight whose center tap copies
// each channel onto itself.
func identityKernel(c int64) *ts.Tensor {
	vals := make([]float32, c*c*3*3)
	for i := int64(0); i < c; i++ {
		vals[i*c*9+i*9+4] = 1.0
	}

	return ts.MustOfSlice(vals).MustView([]int64{c, c, 3, 3}, true)
}

// With identity kernels every dilated stage reproduces its (positive)
// input, so the residual accumulation sums to input x (stages + 1).
func TestDBlockResidualAccumulation(t *testing.T) {
	const channel int64 = 4

	vs := nn.NewVarStore(gotch.CPU)
	db := dlinknet.NewDBlock(vs.Root().Sub("dblock"), channel)

	kernel := identityKernel(channel)
	ts.NoGrad(func() {
		for i := 1; i <= 4; i++ {
			name := fmt.Sprintf("dblock.dilate%d.weight", i)
			w, ok := vs.Vars.NamedVariables[name]
			if !ok {
				t.Fatalf("variable %v not registered", name)
			}
			w.Copy_(kernel)
		}
	})
	kernel.MustDrop()

	x := ts.MustOnes([]int64{1, channel, 8, 8}, gotch.Float, gotch.CPU)
	out := db.ForwardT(x, false)

	got := out.MustMean(gotch.Double, false).Float64Values()[0]
	spread := out.MustMax(false).Float64Values()[0] - out.MustMin(false).Float64Values()[0]
	out.MustDrop()
	x.MustDrop()

	if math.Abs(got-5.0) > 1e-5 || spread > 1e-5 {
		t.Errorf("want uniform output of 5.0 (input x 5), got mean %v spread %v", got, spread)
	}
}
