package plane

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidResolution は幅または高さが2未満の場合に返される
	ErrInvalidResolution = errors.New("invalid resolution")
	// ErrInvalidRegion は領域が空または非有限値を含む場合に返される
	ErrInvalidRegion = errors.New("invalid region")
)

// Region は複素平面上の矩形領域
type Region struct {
	XMin float64 `json:"x_min" yaml:"x_min"`
	XMax float64 `json:"x_max" yaml:"x_max"`
	YMin float64 `json:"y_min" yaml:"y_min"`
	YMax float64 `json:"y_max" yaml:"y_max"`
}

// DefaultRegion は集合全体が収まる標準の領域を返す
func DefaultRegion() Region {
	return Region{XMin: -2.5, XMax: 1, YMin: -1.5, YMax: 1.5}
}

// Validate は領域を検証する
func (r Region) Validate() error {
	for _, v := range []float64{r.XMin, r.XMax, r.YMin, r.YMax} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite bound in %v", ErrInvalidRegion, r)
		}
	}
	if r.XMin >= r.XMax {
		return fmt.Errorf("%w: x_min %g must be less than x_max %g", ErrInvalidRegion, r.XMin, r.XMax)
	}
	if r.YMin >= r.YMax {
		return fmt.Errorf("%w: y_min %g must be less than y_max %g", ErrInvalidRegion, r.YMin, r.YMax)
	}
	return nil
}

func (r Region) String() string {
	return fmt.Sprintf("[%g, %g] x [%g, %g]i", r.XMin, r.XMax, r.YMin, r.YMax)
}

// Resolution は実軸方向(Width)と虚軸方向(Height)のサンプル数
type Resolution struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// Validate は解像度を検証する
func (r Resolution) Validate() error {
	if r.Width <= 1 || r.Height <= 1 {
		return fmt.Errorf("%w: %dx%d (both sides must be greater than 1)", ErrInvalidResolution, r.Width, r.Height)
	}
	return nil
}

// Pixels は総サンプル数を返す
func (r Resolution) Pixels() int {
	return r.Width * r.Height
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Grid は Height x Width の複素数サンプル（行優先）
type Grid struct {
	Width   int
	Height  int
	Region  Region
	samples []complex128
}

// NewGrid はregionをresで等間隔にサンプリングしたグリッドを作成する
func NewGrid(region Region, res Resolution) (*Grid, error) {
	if err := res.Validate(); err != nil {
		return nil, err
	}
	if err := region.Validate(); err != nil {
		return nil, err
	}

	re := Linspace(region.XMin, region.XMax, res.Width)
	im := Linspace(region.YMin, region.YMax, res.Height)

	samples := make([]complex128, res.Pixels())
	for row, y := range im {
		base := row * res.Width
		for col, x := range re {
			samples[base+col] = complex(x, y)
		}
	}

	return &Grid{
		Width:   res.Width,
		Height:  res.Height,
		Region:  region,
		samples: samples,
	}, nil
}

// Linspace は [start, stop] を両端を含めてn点に分割する
// 除数は n-1 で、最後の点は丸め誤差なしにstopと一致する
func Linspace(start, stop float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	out := make([]float64, n)
	if n == 1 {
		out[0] = start
		return out
	}
	step := (stop - start) / float64(n-1)
	for i := range n {
		out[i] = start + float64(i)*step
	}
	out[n-1] = stop
	return out
}

// At は (row, col) のサンプルを返す
func (g *Grid) At(row, col int) complex128 {
	return g.samples[row*g.Width+col]
}

// Row は行rowのサンプルを返す（コピーではない）
func (g *Grid) Row(row int) []complex128 {
	start := row * g.Width
	return g.samples[start : start+g.Width]
}

// Resolution はグリッドの解像度を返す
func (g *Grid) Resolution() Resolution {
	return Resolution{Width: g.Width, Height: g.Height}
}
