package engine

import (
	"strings"

	"playground/internal/models"
)

// DefaultErrorMessage is shown when a pipeline fails.
const DefaultErrorMessage = "There was an error! We've logged it and will try to fix it. Try something else!"

// Placeholder is a minimal, valid figure that only carries message. Empty
// message means DefaultErrorMessage.
func Placeholder(message string) models.Figure {
	if message == "" {
		message = DefaultErrorMessage
	}
	noScale := false
	return models.Figure{
		Data: []models.Trace{{
			Type:      "heatmap",
			X:         []int{0},
			Y:         []string{""},
			Z:         [][]float64{{0}},
			ShowScale: &noScale,
		}},
		Layout: models.Layout{
			Annotations: []models.Annotation{{X: 0, Y: 2, ShowArrow: false, Text: message}},
		},
	}
}

// EmptyDateDistribution is the date chart shown before a bar is picked.
func EmptyDateDistribution(group string) models.Figure {
	years := make([]int, 0, distMaxYear-distMinYear)
	zeros := make([]float64, 0, distMaxYear-distMinYear)
	for y := distMinYear; y < distMaxYear; y++ {
		years = append(years, y)
		zeros = append(zeros, 0)
	}
	return models.Figure{
		Data: []models.Trace{{Type: "scatter", X: years, Y: zeros}},
		Layout: models.Layout{
			Height: 300,
			YAxis:  &models.Axis{Range: [2]float64{0, 100000}},
			Title:  "Select a " + strings.ReplaceAll(group, "_", " ") + " to see date distribution",
		},
	}
}
