package engine

// Matrix は Height x Width のエスケープ回数（行優先）
type Matrix struct {
	Width  int
	Height int
	Values []int32
}

// NewMatrix はゼロ埋めされた行列を作成する
func NewMatrix(width, height int) *Matrix {
	return &Matrix{
		Width:  width,
		Height: height,
		Values: make([]int32, width*height),
	}
}

// At は (row, col) の値を返す
func (m *Matrix) At(row, col int) int32 {
	return m.Values[row*m.Width+col]
}

// Row は1行分のスライスを返す（コピーではない）
func (m *Matrix) Row(row int) []int32 {
	return m.Values[row*m.Width : (row+1)*m.Width]
}
