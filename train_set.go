package pmgan

import (
	"fmt"
	"math/rand"

	"gorgonia.org/tensor"
)

// TrainSet In-memory set of real images
//
// TrainData - images in layout [DataLength, colors, height, width]
// TrainLabel - class index of every image. Could be nil for unconditional training
// Classes - number of classes
type TrainSet struct {
	TrainData  *tensor.Dense
	TrainLabel []int
	Classes    int
	DataLength int
}

// NewTrainSet Builds set from flat images of provided shape
func NewTrainSet(shape ImageShape, images [][]float64, labels []int, classes int) (*TrainSet, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("Train set needs one image atleast")
	}
	if labels != nil && len(labels) != len(images) {
		return nil, fmt.Errorf("Got %d images but %d labels", len(images), len(labels))
	}
	data := make([]float64, 0, len(images)*shape.Size())
	for i, img := range images {
		if len(img) != shape.Size() {
			return nil, fmt.Errorf("Image #%d has %d values, but shape %v needs %d", i, len(img), []int(shape), shape.Size())
		}
		data = append(data, img...)
	}
	for i, label := range labels {
		if label < 0 || label >= classes {
			return nil, fmt.Errorf("Label #%d is %d, but it should be in range [0;%d)", i, label, classes)
		}
	}
	return &TrainSet{
		TrainData:  tensor.New(tensor.WithShape(shape.NCHW(len(images))...), tensor.WithBacking(data)),
		TrainLabel: labels,
		Classes:    classes,
		DataLength: len(images),
	}, nil
}

// Batches Number of full batches
func (ts *TrainSet) Batches(batchSize int) int {
	if batchSize <= 0 {
		return 0
	}
	return ts.DataLength / batchSize
}

// Shuffle Shuffles images and labels in place
func (ts *TrainSet) Shuffle(rnd *rand.Rand) {
	data := ts.TrainData.Data().([]float64)
	size := len(data) / ts.DataLength
	tmp := make([]float64, size)
	rnd.Shuffle(ts.DataLength, func(i, j int) {
		copy(tmp, data[i*size:(i+1)*size])
		copy(data[i*size:(i+1)*size], data[j*size:(j+1)*size])
		copy(data[j*size:(j+1)*size], tmp)
		if ts.TrainLabel != nil {
			ts.TrainLabel[i], ts.TrainLabel[j] = ts.TrainLabel[j], ts.TrainLabel[i]
		}
	})
}

// Batch Returns copy of b-th batch of images and one hot labels (nil when set has no labels)
func (ts *TrainSet) Batch(b, batchSize int) (*tensor.Dense, *tensor.Dense, error) {
	if b < 0 || b >= ts.Batches(batchSize) {
		return nil, nil, fmt.Errorf("Batch #%d is out of range [0;%d)", b, ts.Batches(batchSize))
	}
	start := b * batchSize
	end := start + batchSize
	data := ts.TrainData.Data().([]float64)
	size := len(data) / ts.DataLength
	backing := make([]float64, batchSize*size)
	copy(backing, data[start*size:end*size])
	shape := ts.TrainData.Shape().Clone()
	shape[0] = batchSize
	images := tensor.New(tensor.WithShape(shape...), tensor.WithBacking(backing))
	if ts.TrainLabel == nil {
		return images, nil, nil
	}
	labels, err := OneHotDense(ts.TrainLabel[start:end], ts.Classes)
	if err != nil {
		return nil, nil, err
	}
	return images, labels, nil
}
