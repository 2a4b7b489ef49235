package escape

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountOrigin(t *testing.T) {
	for _, n := range []int{0, 1, 7, 50, 256, 1000} {
		assert.Equal(t, n, Count(0, n), "origin never escapes (n=%d)", n)
	}
}

func TestCountOutside(t *testing.T) {
	// 反復0で |0| <= 2、z1 = 3、反復1で |3| > 2
	assert.Equal(t, 1, Count(3, 50))
	assert.Equal(t, 1, Count(complex(0, -2.5), 50))
	assert.Equal(t, 0, Count(3, 0))
}

func TestCountPeriodic(t *testing.T) {
	// -1 は周期2の軌道 0, -1, 0, -1, ...
	assert.Equal(t, 50, Count(-1, 50))
	// -2 は 0, -2, 2, 2, ... で |z| はちょうど2に留まる
	assert.Equal(t, 50, Count(-2, 50))
	assert.Equal(t, 50, Count(complex(0, 1), 50))
}

func TestCountBounded(t *testing.T) {
	const maxIter = 64
	for x := -3.0; x <= 3.0; x += 0.25 {
		for y := -3.0; y <= 3.0; y += 0.25 {
			n := Count(complex(x, y), maxIter)
			assert.GreaterOrEqual(t, n, 0)
			assert.LessOrEqual(t, n, maxIter)
		}
	}
}

func TestRow(t *testing.T) {
	src := []complex128{0, 3, -1, complex(0, -2.5)}
	dst := make([]int32, len(src))

	Row(dst, src, 50)

	assert.Equal(t, []int32{50, 1, 50, 1}, dst)
}

func BenchmarkCount(b *testing.B) {
	c := complex(-0.743643887037151, 0.13182590420533)
	for b.Loop() {
		_ = Count(c, 256)
	}
}
