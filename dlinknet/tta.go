package dlinknet

import (
	"log"

	"github.com/sugarme/gotch"
	ts "github.com/sugarme/gotch/tensor"
)

// RunTTA runs 8-way geometric test-time augmentation for a single image.
//
// The input (3, H, W) is expanded into eight views, {id, rot90, vflip,
// rot90+vflip} x {no hflip, hflip}, realized as two forward passes over
// batches of four. Each prediction is folded back by inverting its
// transform and summing, so every pixel accumulates eight sigmoid votes.
// The accumulated score is collapsed to a binary mask: scores above 4.0
// (half of the eight votes) map to 255, then the 0/255 mask is normalized
// by 255 and re-thresholded at 0.5.
//
// Returns a (1, H, W) mask of 0/1 values.
func RunTTA(net ts.ModuleT, img *ts.Tensor) *ts.Tensor {
	if size := img.MustSize(); len(size) != 3 {
		log.Fatalf("RunTTA expects a single (C, H, W) image. Got shape %v\n", size)
	}

	// Views: rows {id, rot90, vflip(id), vflip(rot90)}
	img90 := img.MustRot90(1, []int64{1, 2}, false)
	pair := ts.MustStack([]ts.Tensor{*img, *img90}, 0)
	img90.MustDrop()
	pairV := pair.MustFlip([]int64{2}, false)
	views := ts.MustCat([]ts.Tensor{*pair, *pairV}, 0)
	pair.MustDrop()
	pairV.MustDrop()
	viewsH := views.MustFlip([]int64{3}, false)

	predA := net.ForwardT(views, false)
	views.MustDrop()
	predB := net.ForwardT(viewsH, false)
	viewsH.MustDrop()

	// Fold the horizontal flip
	predBInv := predB.MustFlip([]int64{3}, true)
	pred1 := predA.MustAdd(predBInv, true)
	predBInv.MustDrop()

	// Fold the vertical flip
	top := pred1.MustNarrow(0, 0, 2, false)
	bottom := pred1.MustNarrow(0, 2, 2, true)
	bottomInv := bottom.MustFlip([]int64{2}, true)
	pred2 := top.MustAdd(bottomInv, true)
	bottomInv.MustDrop()

	// Fold the rotation: rotate the rot90 branch once more, then flip both
	// spatial axes
	idBranch := pred2.MustSelect(0, 0, false)
	rotBranch := pred2.MustSelect(0, 1, true)
	rotInv := rotBranch.MustRot90(1, []int64{1, 2}, true).
		MustFlip([]int64{1}, true).
		MustFlip([]int64{2}, true)
	raw := idBranch.MustAdd(rotInv, true)
	rotInv.MustDrop()

	// 0-255 two-stage threshold
	vote := raw.MustGt(ts.FloatScalar(4.0), true).MustTotype(gotch.Float, true)
	scaled := vote.MustMul1(ts.FloatScalar(255.0), true)
	norm := scaled.MustDiv1(ts.FloatScalar(255.0), true)
	mask := norm.MustGe(ts.FloatScalar(0.5), true).MustTotype(gotch.Float, true)

	return mask
}

// BatchTTA applies RunTTA to every image of a (B, 3, H, W) batch and stacks
// the resulting masks into a (B, 1, H, W) tensor. Gradients are disabled
// for the whole procedure.
func BatchTTA(net ts.ModuleT, images *ts.Tensor) *ts.Tensor {
	size := images.MustSize()
	if len(size) != 4 {
		log.Fatalf("BatchTTA expects a (B, C, H, W) batch. Got shape %v\n", size)
	}

	var out *ts.Tensor
	ts.NoGrad(func() {
		var masks []ts.Tensor
		for i := int64(0); i < size[0]; i++ {
			img := images.MustSelect(0, i, false)
			mask := RunTTA(net, img)
			img.MustDrop()
			masks = append(masks, *mask)
		}

		out = ts.MustStack(masks, 0)
		for _, m := range masks {
			m.MustDrop()
		}
	})

	return out
}
