package metric

import (
	"log"
	"reflect"

	"github.com/sugarme/gotch"
	ts "github.com/sugarme/gotch/tensor"
)

// checkShapes stops on a prediction/target shape mismatch. Mismatched
// tensors are never broadcast or coerced here.
func checkShapes(op string, pred, target *ts.Tensor) {
	pSize := pred.MustSize()
	tSize := target.MustSize()
	if !reflect.DeepEqual(pSize, tSize) {
		log.Fatalf("%v: prediction shape %v does not match target shape %v\n", op, pSize, tSize)
	}
}

// BCELoss is binary cross entropy over per-pixel probabilities.
// Probabilities are clipped away from 0 and 1 before the log.
func BCELoss(probability, target *ts.Tensor) *ts.Tensor {
	checkShapes("BCELoss", probability, target)

	p := probability.MustView([]int64{-1}, false)
	t := target.MustView([]int64{-1}, false)

	// 1-p
	p1 := p.MustMul1(ts.FloatScalar(-1), false).MustAdd1(ts.FloatScalar(1), true)
	// 1-t
	t1 := t.MustMul1(ts.FloatScalar(-1), false).MustAdd1(ts.FloatScalar(1), true)

	pclip := p.MustClip(ts.FloatScalar(1e-6), ts.FloatScalar(1), true)
	logp := pclip.MustLog(true)
	p1clip := p1.MustClip(ts.FloatScalar(1e-6), ts.FloatScalar(1), true)
	logn := p1clip.MustLog(true)

	// t*log(p)
	tlogp := t.MustMul(logp, true)
	logp.MustDrop()
	// (1-t)*log(1-p)
	t1logn := t1.MustMul(logn, true)
	logn.MustDrop()

	loss := tlogp.MustAdd(t1logn, true)
	t1logn.MustDrop()

	lossMean := loss.MustMean(gotch.Double, true)

	return lossMean.MustMul1(ts.FloatScalar(-1), true)
}

// DiceLoss is the soft Dice loss, 1 - (2*sum(p*g) + eps)/(sum(p^2) +
// sum(g^2) + eps), summed per sample over the spatial dims and averaged
// over the batch. The smoothing constant keeps the empty/empty case
// defined.
// Ref. http://campar.in.tum.de/pub/milletari2016Vnet/milletari2016Vnet.pdf
func DiceLoss(probability, target *ts.Tensor) *ts.Tensor {
	checkShapes("DiceLoss", probability, target)

	dims := []int64{-2, -1}
	smooth := 1.0

	pgMul := probability.MustMul(target, false)
	overlap := pgMul.MustSum1(dims, false, gotch.Double, true)

	ppMul := probability.MustMul(probability, false)
	pSq := ppMul.MustSum1(dims, false, gotch.Double, true)
	ggMul := target.MustMul(target, false)
	gSq := ggMul.MustSum1(dims, false, gotch.Double, true)

	numerator := overlap.MustMul1(ts.FloatScalar(2.0), true).MustAdd1(ts.FloatScalar(smooth), true)
	denominator := pSq.MustAdd(gSq, true).MustAdd1(ts.FloatScalar(smooth), true)
	gSq.MustDrop()

	dc := numerator.MustDiv(denominator, true)
	denominator.MustDrop()

	mean := dc.MustMean(gotch.Double, true)

	return mean.MustMul1(ts.FloatScalar(-1), true).MustAdd1(ts.FloatScalar(1), true)
}

// DiceCoeff is the hard Dice coefficient between the 0.5-thresholded
// prediction and target.
func DiceCoeff(probability, target *ts.Tensor) float64 {
	checkShapes("DiceCoeff", probability, target)

	iflat := probability.MustView([]int64{-1}, false)
	tflat := target.MustView([]int64{-1}, false)
	p := iflat.MustGt(ts.FloatScalar(0.5), true)
	t := tflat.MustGt(ts.FloatScalar(0.5), true)
	ptMul := p.MustMul(t, false)
	overlap := ptMul.MustSum(gotch.Double, true).Float64Values()[0]
	union := p.MustSum(gotch.Double, true).Float64Values()[0] + t.MustSum(gotch.Double, true).Float64Values()[0]

	return (2*overlap + 1e-6) / (union + 1e-6)
}

// IoU is the binary Jaccard index between the 0.5-thresholded prediction
// and target. Identical masks score exactly 1.0; the empty/empty case is
// defined by the smoothing constant.
func IoU(probability, target *ts.Tensor) float64 {
	checkShapes("IoU", probability, target)

	iflat := probability.MustView([]int64{-1}, false)
	tflat := target.MustView([]int64{-1}, false)
	p := iflat.MustGt(ts.FloatScalar(0.5), true)
	t := tflat.MustGt(ts.FloatScalar(0.5), true)
	ptMul := p.MustMul(t, false)
	inter := ptMul.MustSum(gotch.Double, true).Float64Values()[0]
	total := p.MustSum(gotch.Double, true).Float64Values()[0] + t.MustSum(gotch.Double, true).Float64Values()[0]
	union := total - inter

	return (inter + 1e-6) / (union + 1e-6)
}

// Accuracy calculates true positive and true negative rates at the 0.5
// threshold. A rate over an empty class is smoothed so it stays defined.
func Accuracy(probability, target *ts.Tensor) (tp, tn float64) {
	checkShapes("Accuracy", probability, target)

	iflat := probability.MustView([]int64{-1}, false)
	tflat := target.MustView([]int64{-1}, false)
	p := iflat.MustGt(ts.FloatScalar(0.5), true)
	t := tflat.MustGt(ts.FloatScalar(0.5), true)

	ptMul := p.MustMul(t, false)
	overlap := ptMul.MustSum(gotch.Double, true).Float64Values()[0]
	tSum := t.MustSum(gotch.Double, false).Float64Values()[0]
	tp = (overlap + 1e-6) / (tSum + 1e-6)

	pf := p.MustTotype(gotch.Double, true)
	tf := t.MustTotype(gotch.Double, true)
	p1 := pf.MustMul1(ts.FloatScalar(-1), true).MustAdd1(ts.FloatScalar(1), true)
	t1 := tf.MustMul1(ts.FloatScalar(-1), true).MustAdd1(ts.FloatScalar(1), true)
	p1t1Mul := p1.MustMul(t1, true)
	negOverlap := p1t1Mul.MustSum(gotch.Double, true).Float64Values()[0]
	negSum := t1.MustSum(gotch.Double, true).Float64Values()[0]
	tn = (negOverlap + 1e-6) / (negSum + 1e-6)

	return tp, tn
}

// LossAndMetric computes the composite training objective and the IoU
// metric for one prediction/target pair: BCE and soft Dice as loss tensors
// (their sum is the training loss) and the Jaccard index as a scalar.
func LossAndMetric(probability, target *ts.Tensor) (bce, dice *ts.Tensor, iou float64) {
	bce = BCELoss(probability, target)
	dice = DiceLoss(probability, target)
	iou = IoU(probability, target)

	return bce, dice, iou
}
