package main

import (
	"fmt"
	"log"
	"path/filepath"

	"github.com/sugarme/gotch/dutil"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"
	"github.com/sugarme/gotch/vision"

	"github.com/afperezm/DeepGlobe-Road-Extraction-Challenge/dlinknet"
	"github.com/afperezm/DeepGlobe-Road-Extraction-Challenge/metric"
)

// runTest evaluates a trained checkpoint on the test tiles with 8-way
// test-time augmentation.
func runTest() {
	ids, err := scanTileIDs(DataPath)
	if err != nil {
		log.Fatal(err)
	}
	if len(ids) == 0 {
		log.Fatalf("no '*_sat.jpg' tiles found in %v\n", DataPath)
	}

	vs := nn.NewVarStore(Device)
	cfg := modelConfig()
	// weights come from the trained checkpoint, not the backbone source
	cfg.Weights = "random"
	cfg.CheckpointPath = ""
	net, err := dlinknet.New(vs, cfg)
	if err != nil {
		log.Fatal(err)
	}

	ckpt := filepath.Join(ResultsPath, "dlinknet-best.gt")
	if _, err := vs.LoadPartial(ckpt); err != nil {
		log.Fatal(err)
	}

	testDS := NewRoadsDataset(DataPath, ids, false)
	// TTA runs two 4-view passes per image, so keep test batches small
	testBatch := BatchSize / 4
	if testBatch == 0 {
		testBatch = 1
	}

	s, err := dutil.NewBatchSampler(testDS.Len(), testBatch, false, false)
	if err != nil {
		log.Fatal(err)
	}
	dl, err := dutil.NewDataLoader(testDS, s)
	if err != nil {
		log.Fatal(err)
	}

	var (
		bceSum  float64
		diceSum float64
		iouSum  float64
		tpSum   float64
		tnSum   float64
		batches int
		saved   int
	)
	for dl.HasNext() {
		item, err := dl.Next()
		if err != nil {
			log.Fatal(err)
		}

		imgTs, maskTs := stackBatch(item.([]ImageMask))
		input := imgTs.MustTo(Device, true)
		target := maskTs.MustTo(Device, true)

		masks := dlinknet.BatchTTA(net, input)
		input.MustDrop()

		saved, err = savePredictions(masks, ids, saved)
		if err != nil {
			log.Fatal(err)
		}

		bce, dice, batchIoU := metric.LossAndMetric(masks, target)
		tp, tn := metric.Accuracy(masks, target)
		masks.MustDrop()
		target.MustDrop()

		bceSum += bce.Float64Values()[0]
		diceSum += dice.Float64Values()[0]
		iouSum += batchIoU
		tpSum += tp
		tnSum += tn
		batches++
		bce.MustDrop()
		dice.MustDrop()
	}

	if batches == 0 {
		log.Fatal("empty test set")
	}

	n := float64(batches)
	fmt.Printf("Test BCE: %.5f\t Dice loss: %.5f\t IoU: %.4f\t TP rate: %.4f\t TN rate: %.4f\n",
		bceSum/n, diceSum/n, iouSum/n, tpSum/n, tnSum/n)
	fmt.Printf("Saved %v predicted masks to %v\n", saved, ResultsPath)
}

// savePredictions writes each (1, H, W) mask of the batch as a PNG named
// after its tile id, continuing from the given offset into ids.
func savePredictions(masks *ts.Tensor, ids []string, offset int) (int, error) {
	n := masks.MustSize()[0]
	for i := int64(0); i < n; i++ {
		mask := masks.MustSelect(0, i, false)
		scaled := mask.MustMul1(ts.FloatScalar(255.0), true)

		fname := filepath.Join(ResultsPath, fmt.Sprintf("%v_pred.png", ids[offset]))
		err := vision.Save(scaled, fname)
		scaled.MustDrop()
		if err != nil {
			return offset, err
		}
		offset++
	}

	return offset, nil
}
