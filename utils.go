package pmgan

import (
	"fmt"
	"image/color"
	"math/rand"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gorgonia.org/tensor"
)

// NormRandDense Return reference to tensor.Dense filled with normally distributed float64 values
//
// batchSize - Simply batch size
// n - Number of elements in each batch (latent space size)
// Resulting dense will have shape [batchSize, n]
func NormRandDense(batchSize, n int) *tensor.Dense {
	data := make([]float64, batchSize*n)
	for i := range data {
		data[i] = rand.NormFloat64()
	}
	return tensor.New(tensor.WithShape(batchSize, n), tensor.WithBacking(data))
}

// UniformRandDense Return reference to tensor.Dense filled with pseudo-random float64 values in range [-1.0,1.0)
//
// batchSize - Simply batch size
// n - Number of elements in each batch (latent space size)
// Resulting dense will have shape [batchSize, n]
func UniformRandDense(batchSize, n int) *tensor.Dense {
	data := make([]float64, batchSize*n)
	for i := range data {
		data[i] = 2*rand.Float64() - 1
	}
	return tensor.New(tensor.WithShape(batchSize, n), tensor.WithBacking(data))
}

// OneHotDense Encodes class indices as one hot rows: resulting shape is [len(labels), classes]
func OneHotDense(labels []int, classes int) (*tensor.Dense, error) {
	if classes <= 0 {
		return nil, fmt.Errorf("Number of classes should be positive, got %d", classes)
	}
	data := make([]float64, len(labels)*classes)
	for i, label := range labels {
		if label < 0 || label >= classes {
			return nil, fmt.Errorf("Label #%d is %d, but it should be in range [0;%d)", i, label, classes)
		}
		data[i*classes+label] = 1
	}
	return tensor.New(tensor.WithShape(len(labels), classes), tensor.WithBacking(data)), nil
}

// RandomLabels Samples class indices uniformly
func RandomLabels(batchSize, classes int) ([]int, error) {
	if classes <= 0 {
		return nil, fmt.Errorf("Number of classes should be positive, got %d", classes)
	}
	labels := make([]int, batchSize)
	for i := range labels {
		labels[i] = rand.Intn(classes)
	}
	return labels, nil
}

// ConstDense Dense of given shape filled by single value. Useful for real/fake targets
func ConstDense(value float64, shape ...int) *tensor.Dense {
	size := 1
	for _, d := range shape {
		size *= d
	}
	data := make([]float64, size)
	for i := range data {
		data[i] = value
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
}

// PlotLosses Plot loss curves. Every series is indexed by training step
func PlotLosses(series map[string][]float64, fname string) error {
	if len(series) == 0 {
		return fmt.Errorf("Nothing to plot")
	}
	p := plot.New()
	p.Title.Text = "Losses"
	p.X.Label.Text = "Step"
	p.Y.Label.Text = "Loss"
	p.Add(plotter.NewGrid())

	names := make([]string, 0, len(series))
	for name := range series {
		names = append(names, name)
	}
	sort.Strings(names)
	for i, name := range names {
		values := series[name]
		points := make(plotter.XYs, len(values))
		for j, v := range values {
			points[j].X = float64(j)
			points[j].Y = v
		}
		line, err := plotter.NewLine(points)
		if err != nil {
			return errors.Wrapf(err, "Can't init line for '%s'", name)
		}
		line.Color = plotutil.Color(i)
		p.Add(line)
		p.Legend.Add(name, line)
	}
	p.Legend.Top = true
	p.BackgroundColor = color.White
	// Save the plot to a PNG file.
	if err := p.Save(6*vg.Inch, 4*vg.Inch, fname); err != nil {
		return errors.Wrap(err, "Can't save plot")
	}
	return nil
}
