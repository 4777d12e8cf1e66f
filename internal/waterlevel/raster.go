package waterlevel

import "slices"

// RasterFunction is an image service rendering rule.
type RasterFunction struct {
	FunctionName    string `json:"rasterFunction"`
	Arguments       any    `json:"rasterFunctionArguments"`
	OutputPixelType string `json:"outputPixelType,omitempty"`
}

// MaskArguments keep pixels inside IncludedRanges.
type MaskArguments struct {
	IncludedRanges       []float64 `json:"IncludedRanges"`
	NoDataInterpretation int       `json:"NoDataInterpretation"`
}

// StretchArguments stretch the masked depth values for display.
type StretchArguments struct {
	StretchType                int             `json:"StretchType"`
	NumberOfStandardDeviations float64         `json:"NumberOfStandardDeviations"`
	Statistics                 [][]float64     `json:"Statistics"`
	UseGamma                   bool            `json:"UseGamma"`
	Gamma                      []float64       `json:"Gamma"`
	Raster                     *RasterFunction `json:"Raster"`
}

// ColormapArguments colour the stretched raster with a ramp.
type ColormapArguments struct {
	Raster    *RasterFunction `json:"Raster"`
	Colorramp Colorramp       `json:"Colorramp"`
}

// Colorramp is a multipart colour ramp.
type Colorramp struct {
	Type       string            `json:"type"`
	ColorRamps []AlgorithmicRamp `json:"colorRamps"`
}

// AlgorithmicRamp interpolates between two RGBA colours.
type AlgorithmicRamp struct {
	Type      string    `json:"type"`
	FromColor []float64 `json:"fromColor"`
	ToColor   []float64 `json:"toColor"`
	Algorithm string    `json:"algorithm"`
}

// depthStatistics are min, max, mean and standard deviation of the depth raster.
var depthStatistics = []float64{0, 10, 1.2000194178044574, 2.5030869494456796}

// #002673 #002673 #004CA8 #006EFF #BFE9FF
var rampStops = [][]float64{
	{0, 38, 115, 1.0},
	{0, 38, 115, 1.0},
	{0, 76, 168, 1.0},
	{0, 110, 255, 1.0},
	{191, 233, 255, 1.0},
}

func defaultColorramp() Colorramp {
	ramps := make([]AlgorithmicRamp, 0, len(rampStops)-1)
	for i := 0; i+1 < len(rampStops); i++ {
		ramps = append(ramps, AlgorithmicRamp{
			Type:      "algorithmic",
			FromColor: slices.Clone(rampStops[i]),
			ToColor:   slices.Clone(rampStops[i+1]),
			Algorithm: "esriCIELabAlgorithm",
		})
	}
	return Colorramp{Type: "multipart", ColorRamps: ramps}
}

// RenderingRule builds Colormap(Stretch(Mask(level))).
func RenderingRule(level int) *RasterFunction {
	mask := &RasterFunction{
		FunctionName: "Mask",
		Arguments: MaskArguments{
			IncludedRanges:       []float64{0, float64(level)},
			NoDataInterpretation: -1,
		},
		OutputPixelType: "u8",
	}
	stretch := &RasterFunction{
		FunctionName: "Stretch",
		Arguments: StretchArguments{
			StretchType:                3,
			NumberOfStandardDeviations: 2.5,
			Statistics:                 [][]float64{slices.Clone(depthStatistics)},
			UseGamma:                   true,
			Gamma:                      []float64{1.25},
			Raster:                     mask,
		},
	}
	return &RasterFunction{
		FunctionName: "Colormap",
		Arguments: ColormapArguments{
			Raster:    stretch,
			Colorramp: defaultColorramp(),
		},
	}
}
