package main

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/LdDl/pmgan"
)

const (
	symbolHeight = 10
	symbolWidth  = 8
)

// symbols Binary 10x8 glyphs. Index in slice is class label
var symbols = [][]float64{
	// H
	{
		0, 0, 0, 0, 0, 0, 0, 0,
		0, 1, 1, 0, 0, 1, 1, 0,
		0, 1, 1, 0, 0, 1, 1, 0,
		0, 1, 1, 0, 0, 1, 1, 0,
		0, 1, 1, 1, 1, 1, 1, 0,
		0, 1, 1, 1, 1, 1, 1, 0,
		0, 1, 1, 0, 0, 1, 1, 0,
		0, 1, 1, 0, 0, 1, 1, 0,
		0, 1, 1, 0, 0, 1, 1, 0,
		0, 0, 0, 0, 0, 0, 0, 0,
	},
	// T
	{
		0, 0, 0, 0, 0, 0, 0, 0,
		0, 1, 1, 1, 1, 1, 1, 0,
		0, 1, 1, 1, 1, 1, 1, 0,
		0, 0, 0, 1, 1, 0, 0, 0,
		0, 0, 0, 1, 1, 0, 0, 0,
		0, 0, 0, 1, 1, 0, 0, 0,
		0, 0, 0, 1, 1, 0, 0, 0,
		0, 0, 0, 1, 1, 0, 0, 0,
		0, 0, 0, 1, 1, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0,
	},
	// L
	{
		0, 0, 0, 0, 0, 0, 0, 0,
		0, 1, 1, 0, 0, 0, 0, 0,
		0, 1, 1, 0, 0, 0, 0, 0,
		0, 1, 1, 0, 0, 0, 0, 0,
		0, 1, 1, 0, 0, 0, 0, 0,
		0, 1, 1, 0, 0, 0, 0, 0,
		0, 1, 1, 0, 0, 0, 0, 0,
		0, 1, 1, 1, 1, 1, 1, 0,
		0, 1, 1, 1, 1, 1, 1, 0,
		0, 0, 0, 0, 0, 0, 0, 0,
	},
	// O
	{
		0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 1, 1, 1, 1, 0, 0,
		0, 1, 1, 0, 0, 1, 1, 0,
		0, 1, 1, 0, 0, 1, 1, 0,
		0, 1, 1, 0, 0, 1, 1, 0,
		0, 1, 1, 0, 0, 1, 1, 0,
		0, 1, 1, 0, 0, 1, 1, 0,
		0, 1, 1, 0, 0, 1, 1, 0,
		0, 0, 1, 1, 1, 1, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0,
	},
}

func symbolShape() pmgan.ImageShape {
	return pmgan.ImageShape{symbolHeight, symbolWidth, 1}
}

// genSyntheticData Noisy copies of every symbol. Pixels are mapped to [-1, 1] to match generator's tanh output
func genSyntheticData(rnd *rand.Rand, perClass int, noise float64) (*pmgan.TrainSet, error) {
	images := make([][]float64, 0, perClass*len(symbols))
	labels := make([]int, 0, perClass*len(symbols))
	for class, symbol := range symbols {
		for i := 0; i < perClass; i++ {
			img := make([]float64, len(symbol))
			for j, v := range symbol {
				img[j] = 2*v - 1 + noise*rnd.NormFloat64()
			}
			images = append(images, img)
			labels = append(labels, class)
		}
	}
	return pmgan.NewTrainSet(symbolShape(), images, labels, len(symbols))
}

// renderSymbol ASCII view of a single image in range [-1, 1]
func renderSymbol(data []float64) string {
	var sb strings.Builder
	for x := 0; x < symbolHeight; x++ {
		sb.WriteString("\t")
		for y := 0; y < symbolWidth; y++ {
			char := " "
			if data[x*symbolWidth+y] > 0 {
				char = "x"
			}
			sb.WriteString(fmt.Sprintf("%s ", char))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
