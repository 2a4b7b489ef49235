// Package escape implements the Mandelbrot escape-time kernel.
package escape

// Count は z <- z*z + c の軌道が |z| > 2 となる最初の反復番号を返す
// z0 = 0 から始め、maxIter 回以内に脱出しなければ maxIter を返す
//
// |z| > 2 は x*x + y*y > 4 で判定するため平方根も割り当ても発生しない
func Count(c complex128, maxIter int) int {
	cr, ci := real(c), imag(c)
	var x, y float64
	for i := 0; i < maxIter; i++ {
		x2, y2 := x*x, y*y
		if x2+y2 > 4 {
			return i
		}
		y = 2*x*y + ci
		x = x2 - y2 + cr
	}
	return maxIter
}

// Row はsrcの各点についてCountを計算しdstに書き込む
// dstはsrcと同じ長さでなければならない
func Row(dst []int32, src []complex128, maxIter int) {
	dst = dst[:len(src)]
	for i, c := range src {
		dst[i] = int32(Count(c, maxIter))
	}
}
