// Package plane maps a rectangular region of the complex plane onto a grid
// of sample points.
//
// Rows run along the imaginary axis and columns along the real axis. Both
// axes are sampled boundary-inclusive: column 0 is XMin, column Width-1 is
// XMax, row 0 is YMin and row Height-1 is YMax.
//
//	region := plane.Region{XMin: -2.5, XMax: 1, YMin: -1.5, YMax: 1.5}
//	grid, err := plane.NewGrid(region, plane.Resolution{Width: 40, Height: 20})
//	c := grid.At(row, col)
package plane
