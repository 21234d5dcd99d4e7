package imagehash

import (
	"image"
	"image/color"
	"math"
)

const (
	minBrightness = 30
	maxBrightness = 220
	minStdDev     = 30
	goodScore     = 10
	poorScore     = 5
)

// AssessQuality loads path and scores it with AssessQualityImage.
func AssessQuality(path string) (int, error) {
	img, err := Load(path)
	if err != nil {
		return 0, err
	}
	return AssessQualityImage(img), nil
}

// AssessQualityImage averages a brightness score (10 when the mean channel
// value is within (30,220), else 5) and a sharpness score (10 when the mean
// channel standard deviation exceeds 30, else 5), rounded to an int.
func AssessQualityImage(img image.Image) int {
	means, stddevs := channelStats(img)
	brightness := poorScore
	if avg := average(means); avg > minBrightness && avg < maxBrightness {
		brightness = goodScore
	}
	sharpness := poorScore
	if average(stddevs) > minStdDev {
		sharpness = goodScore
	}
	return int(math.Round(float64(brightness+sharpness) / 2))
}

// channelStats returns per-channel mean and population standard deviation on
// an 8-bit scale. Grayscale images report a single channel, everything else
// reports R, G and B.
func channelStats(img image.Image) ([]float64, []float64) {
	bounds := img.Bounds()
	channels := 3
	switch img.ColorModel() {
	case color.GrayModel, color.Gray16Model:
		channels = 1
	}
	sums := make([]float64, channels)
	squares := make([]float64, channels)
	count := float64(bounds.Dx() * bounds.Dy())
	if count == 0 {
		return make([]float64, channels), make([]float64, channels)
	}

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			values := [3]float64{float64(r >> 8), float64(g >> 8), float64(b >> 8)}
			for c := 0; c < channels; c++ {
				sums[c] += values[c]
				squares[c] += values[c] * values[c]
			}
		}
	}

	means := make([]float64, channels)
	stddevs := make([]float64, channels)
	for c := 0; c < channels; c++ {
		mean := sums[c] / count
		variance := squares[c]/count - mean*mean
		means[c] = mean
		stddevs[c] = math.Sqrt(math.Max(variance, 0))
	}
	return means, stddevs
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var total float64
	for _, v := range values {
		total += v
	}
	return total / float64(len(values))
}
