package main

import (
	"fmt"
	"image/png"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/LdDl/pmgan"
	"github.com/LdDl/pmgan/architectures"
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("can't load config", slog.Any("err", err))
		os.Exit(1)
	}
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	pmgan.SetLogger(logger)

	if err := run(cfg); err != nil {
		slog.Error("training failed", slog.Any("err", err))
		os.Exit(1)
	}
}

// models Both definitions of discriminator and everything what is needed for training step
type models struct {
	generator     *architectures.DCGANGenerator
	discriminator *architectures.DCGANDiscriminator
	// disTrain Discriminator on its own graph with input of size 2*batch (real and fake)
	disTrain *architectures.DCGANDiscriminator
	gan      *pmgan.GAN
}

func defineModels(cfg *trainConfig, bindings *pmgan.Bindings, ganGraph, disGraph *gorgonia.ExprGraph) (*models, error) {
	opts := architectures.DCGANOptions{
		ZDim:     cfg.LatentSize,
		Classes:  len(symbols),
		Channels: cfg.Channels,
	}
	genCfg := pmgan.GeneratorConfig{
		ImageShape: symbolShape(),
		BatchNorm:  pmgan.StandardBatchNorm,
	}
	bindings.ConfigureGenerator(&genCfg)
	disCfg := pmgan.DiscriminatorConfig{
		ImageShape: symbolShape(),
		LayerNorm:  true,
	}
	bindings.ConfigureDiscriminator(&disCfg)

	generator, err := architectures.NewDCGANGenerator(ganGraph, genCfg, opts)
	if err != nil {
		return nil, errors.Wrap(err, "Can't define generator")
	}
	discriminator, err := architectures.NewDCGANDiscriminator(ganGraph, disCfg, opts)
	if err != nil {
		return nil, errors.Wrap(err, "Can't define discriminator on GAN graph")
	}
	disTrain, err := architectures.NewDCGANDiscriminator(disGraph, disCfg, opts)
	if err != nil {
		return nil, errors.Wrap(err, "Can't define discriminator on its own graph")
	}
	definedGAN, err := pmgan.NewGAN(generator, discriminator)
	if err != nil {
		return nil, err
	}
	slog.Info("models are defined",
		slog.Any("generator", generator.Sublayers()),
		slog.Any("discriminator", disTrain.Sublayers()),
		slog.Int("discriminator_features", disTrain.Features()),
		slog.Bool("spectral_norm", disCfg.SpectralNorm),
		slog.Bool("layer_norm", disCfg.LayerNorm),
	)
	return &models{
		generator:     generator,
		discriminator: discriminator,
		disTrain:      disTrain,
		gan:           definedGAN,
	}, nil
}

func adversarialLosses(kind string, disOut, disLogits, ganOut, ganLogits *gorgonia.Node, batchSize int) (disCost, genCost *gorgonia.Node, err error) {
	switch kind {
	case "bce":
		target := gorgonia.NewMatrix(disOut.Graph(), gorgonia.Float64, gorgonia.WithShape(disOut.Shape()...), gorgonia.WithName("discriminator_target"), gorgonia.WithValue(realFakeTargets(batchSize)))
		disCost, err = pmgan.BinaryCrossEntropyLoss(disOut, target)
		if err != nil {
			return nil, nil, err
		}
		genCost, err = pmgan.NonSaturatingGeneratorLoss(ganOut)
		if err != nil {
			return nil, nil, err
		}
	case "hinge":
		realLogits, err := gorgonia.Slice(disLogits, gorgonia.S(0, batchSize))
		if err != nil {
			return nil, nil, errors.Wrap(err, "Can't slice logits of real samples")
		}
		fakeLogits, err := gorgonia.Slice(disLogits, gorgonia.S(batchSize, 2*batchSize))
		if err != nil {
			return nil, nil, errors.Wrap(err, "Can't slice logits of fake samples")
		}
		disCost, err = pmgan.HingeDiscriminatorLoss(realLogits, fakeLogits)
		if err != nil {
			return nil, nil, err
		}
		genCost, err = pmgan.HingeGeneratorLoss(ganLogits)
		if err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, fmt.Errorf("Unknown loss '%s'", kind)
	}
	gorgonia.WithName("discriminator_loss")(disCost)
	gorgonia.WithName("generator_loss")(genCost)
	return disCost, genCost, nil
}

// realFakeTargets First half of discriminator's batch is real, second one is generated
func realFakeTargets(batchSize int) *tensor.Dense {
	data := make([]float64, 2*batchSize)
	for i := 0; i < batchSize; i++ {
		data[i] = 1
	}
	return tensor.New(tensor.WithShape(2*batchSize, 1), tensor.WithBacking(data))
}

func run(cfg *trainConfig) error {
	// Initialize seed with constant value to reproduce results
	rand.Seed(cfg.Seed)
	rnd := rand.New(rand.NewSource(cfg.Seed))
	batchSize := cfg.BatchSize

	var bindings *pmgan.Bindings
	if cfg.BindingsFile != "" {
		var err error
		bindings, err = pmgan.LoadBindings(cfg.BindingsFile)
		if err != nil {
			return err
		}
		slog.Info("bindings are loaded",
			slog.String("path", cfg.BindingsFile),
			slog.Any("G", bindings.Params(pmgan.ScopeGenerator)),
			slog.Any("D", bindings.Params(pmgan.ScopeDiscriminator)),
		)
	}

	trainSet, err := genSyntheticData(rnd, cfg.PerClass, 0.1)
	if err != nil {
		return errors.Wrap(err, "Can't prepare synthetic data")
	}
	if trainSet.Batches(batchSize) == 0 {
		return fmt.Errorf("Batch size %d is too big for %d samples", batchSize, trainSet.DataLength)
	}
	for class, symbol := range symbols {
		fmt.Printf("Reference symbol #%d:\n%s", class, renderSymbol(symbol))
	}

	// Define graph for GAN feedforward and Generator training
	ganGraph := gorgonia.NewGraph()
	// Define graph for Discriminator training
	disGraph := gorgonia.NewGraph()

	m, err := defineModels(cfg, bindings, ganGraph, disGraph)
	if err != nil {
		return err
	}
	shape := symbolShape()
	classes := len(symbols)

	z := gorgonia.NewMatrix(ganGraph, gorgonia.Float64, gorgonia.WithShape(batchSize, cfg.LatentSize), gorgonia.WithName("generator_input"))
	yGAN := gorgonia.NewMatrix(ganGraph, gorgonia.Float64, gorgonia.WithShape(batchSize, classes), gorgonia.WithName("generator_labels"))
	if err := m.gan.Fwd(z, yGAN); err != nil {
		return err
	}
	xDis := gorgonia.NewTensor(disGraph, gorgonia.Float64, 4, gorgonia.WithShape(shape.NCHW(2*batchSize)...), gorgonia.WithName("discriminator_train_input"))
	yDis := gorgonia.NewMatrix(disGraph, gorgonia.Float64, gorgonia.WithShape(2*batchSize, classes), gorgonia.WithName("discriminator_train_labels"))
	disOut, disLogits, _, err := m.disTrain.Forward(xDis, yDis)
	if err != nil {
		return err
	}

	var generatedSamples gorgonia.Value
	gorgonia.Read(m.gan.GeneratorOut(), &generatedSamples)

	// Forward only machine: compiled before gradients are defined
	tmGenerator := gorgonia.NewTapeMachine(ganGraph)
	defer tmGenerator.Close()

	disCost, genCost, err := adversarialLosses(cfg.Loss, disOut, disLogits, m.gan.Out(), m.gan.Logits(), batchSize)
	if err != nil {
		return err
	}
	if _, err = gorgonia.Grad(genCost, m.gan.GeneratorLearnables()...); err != nil {
		return errors.Wrap(err, "Can't define gradients for generator")
	}
	if _, err = gorgonia.Grad(disCost, m.disTrain.Learnables()...); err != nil {
		return errors.Wrap(err, "Can't define gradients for discriminator")
	}

	var costValGAN, costValDis gorgonia.Value
	gorgonia.Read(genCost, &costValGAN)
	gorgonia.Read(disCost, &costValDis)

	tmGAN := gorgonia.NewTapeMachine(ganGraph, gorgonia.BindDualValues(m.gan.GeneratorLearnables()...))
	defer tmGAN.Close()
	solverGAN := gorgonia.NewAdamSolver(gorgonia.WithBatchSize(float64(batchSize)), gorgonia.WithLearnRate(cfg.LearningRate), gorgonia.WithBeta1(0.5))
	tmDis := gorgonia.NewTapeMachine(disGraph, gorgonia.BindDualValues(m.disTrain.Learnables()...))
	defer tmDis.Close()
	solverDis := gorgonia.NewAdamSolver(gorgonia.WithBatchSize(float64(2*batchSize)), gorgonia.WithLearnRate(cfg.LearningRate), gorgonia.WithBeta1(0.5))

	if err := pmgan.SyncParameters(m.gan.DiscriminatorParameters(), m.disTrain.Parameters()); err != nil {
		return errors.Wrap(err, "Can't copy initial discriminator")
	}

	losses := map[string][]float64{
		"discriminator": {},
		"generator":     {},
	}
	batches := trainSet.Batches(batchSize)
	st := time.Now()
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		trainSet.Shuffle(rnd)
		for b := 0; b < batches; b++ {
			realSamples, labels, err := trainSet.Batch(b, batchSize)
			if err != nil {
				return err
			}
			if err = gorgonia.Let(z, pmgan.NormRandDense(batchSize, cfg.LatentSize)); err != nil {
				return err
			}
			if err = gorgonia.Let(yGAN, labels); err != nil {
				return err
			}
			// Do step on evaluation graph for obtaining 'generatedSamples' (Generator output)
			if err = tmGenerator.RunAll(); err != nil {
				return errors.Wrap(err, "Can't generate samples")
			}
			tmGenerator.Reset()

			allSamples, err := tensor.Concat(0, realSamples, generatedSamples.(tensor.Tensor))
			if err != nil {
				return errors.Wrap(err, "Can't concat real and fake samples")
			}
			allLabels, err := tensor.Concat(0, labels, labels)
			if err != nil {
				return errors.Wrap(err, "Can't concat labels")
			}
			if err = gorgonia.Let(xDis, allSamples); err != nil {
				return err
			}
			if err = gorgonia.Let(yDis, allLabels); err != nil {
				return err
			}
			// Do training step for Discriminator on its own graph
			if err = tmDis.RunAll(); err != nil {
				return errors.Wrap(err, "Can't run discriminator")
			}
			if err = solverDis.Step(gorgonia.NodesToValueGrads(m.disTrain.Learnables())); err != nil {
				return errors.Wrap(err, "Can't update discriminator")
			}
			tmDis.Reset()
			if err = m.disTrain.Refresh(); err != nil {
				return err
			}
			// Bring updated discriminator to GAN graph
			if err = pmgan.SyncParameters(m.gan.DiscriminatorParameters(), m.disTrain.Parameters()); err != nil {
				return err
			}

			// Do training step for Generator. Labels are kept from real batch
			if err = gorgonia.Let(z, pmgan.NormRandDense(batchSize, cfg.LatentSize)); err != nil {
				return err
			}
			if err = tmGAN.RunAll(); err != nil {
				return errors.Wrap(err, "Can't run GAN")
			}
			if err = solverGAN.Step(gorgonia.NodesToValueGrads(m.gan.GeneratorLearnables())); err != nil {
				return errors.Wrap(err, "Can't update generator")
			}
			tmGAN.Reset()
			if err = m.generator.Refresh(); err != nil {
				return err
			}
			losses["discriminator"] = append(losses["discriminator"], costValDis.Data().(float64))
			losses["generator"] = append(losses["generator"], costValGAN.Data().(float64))
		}
		if cfg.EvalPrint > 0 && epoch%cfg.EvalPrint == 0 {
			slog.Info("epoch is done",
				slog.Int("epoch", epoch),
				slog.Any("discriminator_loss", costValDis),
				slog.Any("generator_loss", costValGAN),
				slog.Duration("taken", time.Since(st)),
			)
			st = time.Now()
		}
	}

	return saveResults(cfg, m, tmGenerator, z, yGAN, &generatedSamples, losses)
}

// saveResults Writes loss curves and grid of generated symbols (one row per class)
func saveResults(cfg *trainConfig, m *models, tmGenerator gorgonia.VM, z, y *gorgonia.Node, generatedSamples *gorgonia.Value, losses map[string][]float64) error {
	if err := os.MkdirAll(cfg.OutputFolder, 0o755); err != nil {
		return errors.Wrapf(err, "Can't create output folder '%s'", cfg.OutputFolder)
	}
	if err := pmgan.PlotLosses(losses, filepath.Join(cfg.OutputFolder, "losses.png")); err != nil {
		return err
	}

	batchSize := cfg.BatchSize
	classes := len(symbols)
	grid := make([]tensor.Tensor, 0, classes)
	for class := 0; class < classes; class++ {
		labels := make([]int, batchSize)
		for i := range labels {
			labels[i] = class
		}
		oneHot, err := pmgan.OneHotDense(labels, classes)
		if err != nil {
			return err
		}
		if err := gorgonia.Let(y, oneHot); err != nil {
			return err
		}
		if err := gorgonia.Let(z, pmgan.NormRandDense(batchSize, cfg.LatentSize)); err != nil {
			return err
		}
		if err := tmGenerator.RunAll(); err != nil {
			return errors.Wrap(err, "Can't generate samples")
		}
		tmGenerator.Reset()
		samples := (*generatedSamples).(tensor.Tensor).Clone().(tensor.Tensor)
		grid = append(grid, samples)
		data := samples.Data().([]float64)
		fmt.Printf("Generated symbol #%d:\n%s", class, renderSymbol(data[:symbolHeight*symbolWidth]))
	}
	all, err := tensor.Concat(0, grid[0], grid[1:]...)
	if err != nil {
		return errors.Wrap(err, "Can't concat generated samples")
	}
	img, err := pmgan.GridImage(all, batchSize, -1, 1)
	if err != nil {
		return err
	}
	fname := filepath.Join(cfg.OutputFolder, "symbols.png")
	f, err := os.Create(fname)
	if err != nil {
		return errors.Wrapf(err, "Can't create '%s'", fname)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return errors.Wrapf(err, "Can't encode '%s'", fname)
	}
	slog.Info("results are saved", slog.String("folder", cfg.OutputFolder), slog.String("generator", m.generator.Name()))
	return nil
}
