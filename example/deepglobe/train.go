package main

import (
	"fmt"
	"log"
	"path/filepath"

	"github.com/sugarme/gotch/dutil"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/afperezm/DeepGlobe-Road-Extraction-Challenge/dlinknet"
	"github.com/afperezm/DeepGlobe-Road-Extraction-Challenge/encoder"
	"github.com/afperezm/DeepGlobe-Road-Extraction-Challenge/metric"
)

func modelConfig() dlinknet.Config {
	return dlinknet.Config{
		Depth:          int64(Depth),
		Weights:        encoder.WeightSource(Backbone),
		Variant:        dlinknet.Variant(VariantStr),
		CheckpointPath: ModelPath,
	}
}

func runTrain() {
	ids, err := scanTileIDs(DataPath)
	if err != nil {
		log.Fatal(err)
	}
	if len(ids) == 0 {
		log.Fatalf("no '*_sat.jpg' tiles found in %v\n", DataPath)
	}

	trainIDs, validIDs := splitTileIDs(ids, 0.2)
	fmt.Printf("Tiles: %v train / %v valid\n", len(trainIDs), len(validIDs))

	vs := nn.NewVarStore(Device)
	net, err := dlinknet.New(vs, modelConfig())
	if err != nil {
		log.Fatal(err)
	}

	opt, err := nn.DefaultAdamConfig().Build(vs, LR)
	if err != nil {
		log.Fatal(err)
	}

	trainDS := NewRoadsDataset(DataPath, trainIDs, true)
	validDS := NewRoadsDataset(DataPath, validIDs, false)

	var (
		history   []float64
		bestLoss  = -1.0
		lr        = LR
		badEpochs = 0 // epochs without plateau improvement
		stalls    = 0 // epochs without early-stopping improvement
	)

	for epoch := 0; epoch < Epochs; epoch++ {
		epochLoss, err := trainEpoch(net, opt, trainDS)
		if err != nil {
			log.Fatal(err)
		}
		history = append(history, epochLoss)

		validLoss, validIoU, err := validate(net, validDS)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("Epoch %3d\t train loss: %.5f\t valid loss: %.5f\t valid IoU: %.4f\n",
			epoch, epochLoss, validLoss, validIoU)

		if bestLoss < 0 || epochLoss < bestLoss-MinDelta {
			bestLoss = epochLoss
			stalls = 0
			ckpt := filepath.Join(ResultsPath, "dlinknet-best.gt")
			if err := vs.Save(ckpt); err != nil {
				log.Fatal(err)
			}
		} else {
			stalls++
			if stalls >= Patience {
				fmt.Printf("Early stopping at epoch %v (best train loss %.5f)\n", epoch, bestLoss)
				break
			}
		}

		// reduce on plateau: factor 0.2, patience 3
		if bestLoss >= 0 && epochLoss >= bestLoss-MinDelta {
			badEpochs++
			if badEpochs > 3 && lr > MinLR {
				lr = reduceOnPlateau(lr, MinLR)
				opt.SetLR(lr)
				badEpochs = 0
				fmt.Printf("Reducing learning rate to %v\n", lr)
			}
		} else {
			badEpochs = 0
		}
	}

	if err := plotLossCurve(history, filepath.Join(ResultsPath, "train-loss.png")); err != nil {
		log.Fatal(err)
	}
}

// reduceOnPlateau decays the learning rate by factor 0.2, clamped at the
// scheduler floor.
func reduceOnPlateau(lr, minLR float64) float64 {
	lr *= 0.2
	if lr < minLR {
		lr = minLR
	}

	return lr
}

func trainEpoch(net *dlinknet.DLinkNet, opt *nn.Optimizer, ds *RoadsDataset) (float64, error) {
	s, err := dutil.NewBatchSampler(ds.Len(), BatchSize, true, true)
	if err != nil {
		return 0, err
	}
	dl, err := dutil.NewDataLoader(ds, s)
	if err != nil {
		return 0, err
	}

	var (
		lossSum float64
		batches int
	)
	for dl.HasNext() {
		item, err := dl.Next()
		if err != nil {
			return 0, err
		}

		imgTs, maskTs := stackBatch(item.([]ImageMask))
		input := imgTs.MustTo(Device, true)
		target := maskTs.MustTo(Device, true)

		pred := net.ForwardT(input, true)
		input.MustDrop()

		bce := metric.BCELoss(pred, target)
		dice := metric.DiceLoss(pred, target)
		pred.MustDrop()
		target.MustDrop()

		loss := bce.MustAdd(dice, true)
		dice.MustDrop()

		opt.BackwardStep(loss)

		lossSum += loss.Float64Values()[0]
		batches++
		loss.MustDrop()
	}

	if batches == 0 {
		return 0, fmt.Errorf("no full batch of %v tiles available", BatchSize)
	}

	return lossSum / float64(batches), nil
}

func validate(net *dlinknet.DLinkNet, ds *RoadsDataset) (loss, iou float64, err error) {
	s, err := dutil.NewBatchSampler(ds.Len(), BatchSize, false, false)
	if err != nil {
		return 0, 0, err
	}
	dl, err := dutil.NewDataLoader(ds, s)
	if err != nil {
		return 0, 0, err
	}

	var (
		lossSum float64
		iouSum  float64
		batches int
	)
	for dl.HasNext() {
		item, err := dl.Next()
		if err != nil {
			return 0, 0, err
		}

		imgTs, maskTs := stackBatch(item.([]ImageMask))

		ts.NoGrad(func() {
			input := imgTs.MustTo(Device, true)
			target := maskTs.MustTo(Device, true)

			pred := net.ForwardT(input, false)
			input.MustDrop()

			bce, dice, batchIoU := metric.LossAndMetric(pred, target)
			pred.MustDrop()
			target.MustDrop()

			lossSum += bce.Float64Values()[0] + dice.Float64Values()[0]
			iouSum += batchIoU
			bce.MustDrop()
			dice.MustDrop()
		})
		batches++
	}

	if batches == 0 {
		return 0, 0, fmt.Errorf("empty validation set")
	}

	return lossSum / float64(batches), iouSum / float64(batches), nil
}
