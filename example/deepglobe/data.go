package main

import (
	"fmt"
	"io/ioutil"
	"math/rand"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/disintegration/imaging"
	ts "github.com/sugarme/gotch/tensor"
)

// RoadsDataset implements dutil.Dataset over DeepGlobe road tiles: pairs of
// `<id>_sat.jpg` satellite tiles and `<id>_mask.png` binary road masks.
type RoadsDataset struct {
	dir     string
	ids     []string
	augment bool
	rng     *rand.Rand
}

// NewRoadsDataset creates a RoadsDataset over the given tile ids.
// Augmentation runs only when train is set.
func NewRoadsDataset(dir string, ids []string, train bool) *RoadsDataset {
	return &RoadsDataset{
		dir:     dir,
		ids:     ids,
		augment: train,
		rng:     rand.New(rand.NewSource(42)),
	}
}

func (ds *RoadsDataset) Len() int {
	return len(ds.ids)
}

// ImageMask pairs one satellite tile tensor with its road mask tensor.
type ImageMask struct {
	image ts.Tensor
	mask  ts.Tensor
}

// Item implements dutil.Dataset interface.
func (ds *RoadsDataset) Item(idx int) (interface{}, error) {
	id := ds.ids[idx]

	img, err := imaging.Open(filepath.Join(ds.dir, fmt.Sprintf("%v_sat.jpg", id)))
	if err != nil {
		return nil, err
	}
	mask, err := imaging.Open(filepath.Join(ds.dir, fmt.Sprintf("%v_mask.png", id)))
	if err != nil {
		return nil, err
	}

	if ds.augment {
		img, mask = augment(ds.rng, img, mask)
	}

	imgTs := normalizeImage(imageToTensor(img))
	maskTs := maskToTensor(mask)

	return ImageMask{
		image: *imgTs,
		mask:  *maskTs,
	}, nil
}

func (ds *RoadsDataset) DType() reflect.Type {
	return reflect.TypeOf(ds.ids)
}

// scanTileIDs collects all tile ids of a dataset directory.
func scanTileIDs(dir string) ([]string, error) {
	files, err := ioutil.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, f := range files {
		name := f.Name()
		if strings.HasSuffix(name, "_sat.jpg") {
			ids = append(ids, strings.TrimSuffix(name, "_sat.jpg"))
		}
	}

	return ids, nil
}

// splitTileIDs shuffles ids with a fixed seed and splits off the trailing
// fraction as the validation set.
func splitTileIDs(ids []string, validFraction float64) (train, valid []string) {
	shuffled := append([]string{}, ids...)
	rng := rand.New(rand.NewSource(42))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	cut := int(float64(len(shuffled)) * (1 - validFraction))

	return shuffled[:cut], shuffled[cut:]
}

// stackBatch stacks the sampled items into image and mask batch tensors.
func stackBatch(items []ImageMask) (imgTs, maskTs *ts.Tensor) {
	var img, mask []ts.Tensor
	for _, i := range items {
		img = append(img, i.image)
		mask = append(mask, i.mask)
	}

	imgTs = ts.MustStack(img, 0)
	for _, x := range img {
		x.MustDrop()
	}
	maskTs = ts.MustStack(mask, 0)
	for _, x := range mask {
		x.MustDrop()
	}

	return imgTs, maskTs
}
