package main

import (
	"flag"
	"os"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// trainConfig Settings of training run. Flags win over environment (PMGAN_* variables), environment wins over defaults
type trainConfig struct {
	OutputFolder string
	BindingsFile string
	Loss         string
	Epochs       int
	BatchSize    int
	LatentSize   int
	Channels     int
	PerClass     int
	LearningRate float64
	Seed         int64
	EvalPrint    int
	Verbose      bool
}

// envKeys Environment variable for every flag
var envKeys = map[string]string{
	"out":       "PMGAN_OUTPUT",
	"bindings":  "PMGAN_BINDINGS",
	"loss":      "PMGAN_LOSS",
	"epochs":    "PMGAN_EPOCHS",
	"batch":     "PMGAN_BATCH_SIZE",
	"zdim":      "PMGAN_LATENT_SIZE",
	"channels":  "PMGAN_CHANNELS",
	"per-class": "PMGAN_PER_CLASS",
	"lr":        "PMGAN_LEARNING_RATE",
	"seed":      "PMGAN_SEED",
	"eval":      "PMGAN_EVAL_PRINT",
	"verbose":   "PMGAN_VERBOSE",
}

func loadConfig() (*trainConfig, error) {
	cfg := &trainConfig{}
	var envPath string
	flag.StringVar(&envPath, "env", "", "path to load env from")
	flag.StringVar(&cfg.OutputFolder, "out", "./output", "folder for plots and samples")
	flag.StringVar(&cfg.BindingsFile, "bindings", "", "path to architecture bindings")
	flag.StringVar(&cfg.Loss, "loss", "bce", "adversarial loss: bce or hinge")
	flag.IntVar(&cfg.Epochs, "epochs", 200, "number of epochs")
	flag.IntVar(&cfg.BatchSize, "batch", 8, "batch size")
	flag.IntVar(&cfg.LatentSize, "zdim", 32, "latent space size")
	flag.IntVar(&cfg.Channels, "channels", 8, "feature maps in first convolution")
	flag.IntVar(&cfg.PerClass, "per-class", 16, "noisy samples of every symbol")
	flag.Float64Var(&cfg.LearningRate, "lr", 0.0002, "learning rate")
	flag.Int64Var(&cfg.Seed, "seed", 1337, "random seed")
	flag.IntVar(&cfg.EvalPrint, "eval", 20, "log progress every N epochs")
	flag.BoolVar(&cfg.Verbose, "verbose", false, "debug logging")
	flag.Parse()

	if envPath != "" {
		// Variables already present in environment are not overridden
		if err := godotenv.Load(envPath); err != nil {
			return nil, errors.Wrapf(err, "Can't load env file '%s'", envPath)
		}
	}

	explicit := map[string]bool{}
	flag.Visit(func(f *flag.Flag) {
		explicit[f.Name] = true
	})
	for name, key := range envKeys {
		value, ok := os.LookupEnv(key)
		if !ok || explicit[name] {
			continue
		}
		if err := flag.Set(name, value); err != nil {
			return nil, errors.Wrapf(err, "Bad value of %s", key)
		}
	}
	return cfg, nil
}
