package main

import (
	"fmt"
	"image"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/tiff"
	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
)

// roadCoverage is the fraction of road pixels in a mask image.
func roadCoverage(mask image.Image) float64 {
	b := mask.Bounds()
	total := b.Dx() * b.Dy()
	if total == 0 {
		return 0
	}

	road := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := mask.At(x, y).RGBA()
			if toGrayScale(float64(r>>8), float64(g>>8), float64(bl>>8)) > 127.5 {
				road++
			}
		}
	}

	return float64(road) / float64(total)
}

// readScene decodes a source scene, TIFF or any format imaging knows.
func readScene(path string) (image.Image, error) {
	if ext := strings.ToLower(filepath.Ext(path)); ext == ".tif" || ext == ".tiff" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		return tiff.Decode(f)
	}

	return imaging.Open(path)
}

// runTile cuts every scene/mask pair of the scene directory into
// fixed-size training tiles. Scenes are downscaled by the reduction
// factor first; tiles whose road coverage falls below the threshold are
// skipped.
func runTile() {
	sceneDir := filepath.Join(DataPath, "scene")
	files, err := ioutil.ReadDir(sceneDir)
	if err != nil {
		log.Fatal(err)
	}

	kept, skipped := 0, 0
	for _, f := range files {
		name := f.Name()
		if !strings.Contains(name, "_sat.") {
			continue
		}
		id := name[:strings.Index(name, "_sat.")]

		k, s, err := tileScene(sceneDir, id, name)
		if err != nil {
			log.Fatal(err)
		}
		kept += k
		skipped += s
	}

	fmt.Printf("Tiled %v tiles (%v skipped)\n", kept, skipped)
}

func tileScene(sceneDir, id, satName string) (kept, skipped int, err error) {
	scene, err := readScene(filepath.Join(sceneDir, satName))
	if err != nil {
		return 0, 0, err
	}
	mask, err := imaging.Open(filepath.Join(sceneDir, fmt.Sprintf("%v_mask.png", id)))
	if err != nil {
		return 0, 0, err
	}

	if Reduction > 1 {
		w := uint(scene.Bounds().Dx() / Reduction)
		scene = resize.Resize(w, 0, scene, resize.Bilinear)
		mask = resize.Resize(w, 0, mask, resize.NearestNeighbor)
	}

	size := TileSize
	b := scene.Bounds()
	idx := 0
	for y := 0; y+size <= b.Dy(); y += size {
		for x := 0; x+size <= b.Dx(); x += size {
			rect := image.Rect(x, y, x+size, y+size)
			maskTile := imaging.Crop(mask, rect)
			if roadCoverage(maskTile) < RoadCoverMin {
				skipped++
				continue
			}
			imgTile := imaging.Crop(scene, rect)

			imgOut := filepath.Join(DataPath, fmt.Sprintf("%v_%03d_sat.jpg", id, idx))
			maskOut := filepath.Join(DataPath, fmt.Sprintf("%v_%03d_mask.png", id, idx))
			if err := imaging.Save(imgTile, imgOut); err != nil {
				return kept, skipped, err
			}
			if err := imaging.Save(maskTile, maskOut); err != nil {
				return kept, skipped, err
			}
			kept++
			idx++
		}
	}

	return kept, skipped, nil
}
