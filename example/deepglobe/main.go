package main

import (
	"flag"
	"fmt"
	"log"
	"path/filepath"

	"github.com/sugarme/gotch"
)

// flag variables
var (
	DataPath    string
	ResultsPath string
	ModelPath   string
	Cuda        bool
	task        string
	Device      gotch.Device
)

// hyperparameters
var (
	Depth        int     // backbone depth
	Backbone     string  // backbone weight source
	VariantStr   string  // model variant
	LR           float64 // learning rate
	MinLR        float64 // scheduler lower bound
	BatchSize    int     // batch size
	Epochs       int     // training epochs
	MinDelta     float64 // early stopping minimum improvement
	Patience     int     // early stopping patience (epochs)
	Reduction    int     // scene resolution reduction times
	TileSize     int     // tile image size
	RoadCoverMin float64 // minimum road coverage to keep a tile
)

func init() {
	flag.StringVar(&DataPath, "input", "./input", "specify input data directory")
	flag.StringVar(&ResultsPath, "results", "./results", "specify results directory")
	flag.StringVar(&ModelPath, "model", "./model/resnet34.ot", "specify full path to model weight '.ot' file.")
	flag.BoolVar(&Cuda, "cuda", false, "specify whether using CUDA or not.")
	flag.StringVar(&task, "task", "train", "specify task to run")
	flag.IntVar(&Depth, "depth", 34, "specify backbone depth (18|34|50|101)")
	flag.StringVar(&Backbone, "backbone", "imagenet", "specify backbone weight source")
	flag.StringVar(&VariantStr, "variant", "plain", "specify model variant")
	flag.Float64Var(&LR, "lr", 0.0002, "specify learning rate")
	flag.Float64Var(&MinLR, "min-lr", 0.0, "specify scheduler minimum learning rate")
	flag.IntVar(&BatchSize, "batch", 4, "specify batch size")
	flag.IntVar(&Epochs, "epochs", 300, "specify number of training epochs")
	flag.Float64Var(&MinDelta, "min-delta", 0.002, "specify minimum early stopping improvement")
	flag.IntVar(&Patience, "patience", 6, "specify early stopping patience")
	flag.IntVar(&Reduction, "reduction", 1, "specify scene resolution reduction times")
	flag.IntVar(&TileSize, "tile", 1024, "specify tile image size")
	flag.Float64Var(&RoadCoverMin, "road-cover", 0.0, "specify minimum road coverage to keep a tile")
}

func main() {
	flag.Parse()

	DataPath = absPath(DataPath)
	ResultsPath = absPath(ResultsPath)
	ModelPath = absPath(ModelPath)

	Device = gotch.CPU
	if Cuda {
		Device = gotch.NewCuda().CudaIfAvailable()
	}

	switch task {
	case "train":
		runTrain()
	case "test":
		runTest()
	case "eda":
		runEDA()
	case "tile":
		runTile()
	default:
		err := fmt.Errorf("Unknown 'task' name. Please specify valid 'task' flag to run.\n")
		panic(err)
	}
}

// helper to get absolute file path
func absPath(p string) string {
	fullpath, err := filepath.Abs(p)
	if err != nil {
		log.Fatal(err)
	}
	return fullpath
}
