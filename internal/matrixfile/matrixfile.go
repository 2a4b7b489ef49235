// Package matrixfile reads and writes the three-line matrix file handed to
// the visualizer:
//
//	<width>
//	<x_min> <x_max> <y_min> <y_max>
//	<v_0> <v_1> ... <v_{width*height-1}>
//
// Values are row-major; a reader recovers height as len(values)/width.
package matrixfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"mandelgen/internal/plane"
)

// ErrMalformed は行数・数値・値の個数が不正な場合に返される
var ErrMalformed = errors.New("malformed matrix file")

// File はパース済みの行列ファイル
type File struct {
	Width  int
	Region plane.Region
	Values []int32
}

// Height は行数を返す
func (f *File) Height() int {
	if f.Width == 0 {
		return 0
	}
	return len(f.Values) / f.Width
}

// Row は行rowの値を返す
func (f *File) Row(row int) []int32 {
	start := row * f.Width
	return f.Values[start : start+f.Width]
}

// Write は行列ファイルをwに書き出す
func Write(w io.Writer, width int, region plane.Region, values []int32) error {
	if width <= 0 {
		return fmt.Errorf("width must be positive, got %d", width)
	}
	if len(values) == 0 {
		return fmt.Errorf("matrix has no values")
	}
	if len(values)%width != 0 {
		return fmt.Errorf("%d values do not fill rows of width %d", len(values), width)
	}

	bw := bufio.NewWriterSize(w, 64*1024)

	buf := make([]byte, 0, 64)
	buf = strconv.AppendInt(buf, int64(width), 10)
	buf = append(buf, '\n')
	for i, v := range []float64{region.XMin, region.XMax, region.YMin, region.YMax} {
		if i > 0 {
			buf = append(buf, ' ')
		}
		buf = strconv.AppendFloat(buf, v, 'g', -1, 64)
	}
	buf = append(buf, '\n')
	if _, err := bw.Write(buf); err != nil {
		return err
	}

	for i, v := range values {
		buf = buf[:0]
		if i > 0 {
			buf = append(buf, ' ')
		}
		buf = strconv.AppendInt(buf, int64(v), 10)
		if _, err := bw.Write(buf); err != nil {
			return err
		}
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}

	return bw.Flush()
}

// WriteFile は同じディレクトリの一時ファイルに書いてからリネームする
// 失敗時に途中までのファイルが残ることはない
func WriteFile(path string, width int, region plane.Region, values []int32) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err = Write(tmp, width, region, values); err != nil {
		return fmt.Errorf("failed to write matrix: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move matrix file into place: %w", err)
	}
	return nil
}

// Read は行列ファイルをパースする
func Read(r io.Reader) (*File, error) {
	br := bufio.NewReaderSize(r, 64*1024)

	line, err := readLine(br, 1)
	if err != nil {
		return nil, err
	}
	width, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || width <= 0 {
		return nil, fmt.Errorf("%w: line 1: invalid width %q", ErrMalformed, strings.TrimSpace(line))
	}

	line, err = readLine(br, 2)
	if err != nil {
		return nil, err
	}
	fields := strings.Fields(line)
	if len(fields) != 4 {
		return nil, fmt.Errorf("%w: line 2: expected 4 region bounds, got %d", ErrMalformed, len(fields))
	}
	var bounds [4]float64
	for i, field := range fields {
		bounds[i], err = strconv.ParseFloat(field, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line 2: invalid bound %q", ErrMalformed, field)
		}
	}

	line, err = readLine(br, 3)
	if err != nil {
		return nil, err
	}
	fields = strings.Fields(line)
	if len(fields) == 0 || len(fields)%width != 0 {
		return nil, fmt.Errorf("%w: line 3: %d values do not fill rows of width %d", ErrMalformed, len(fields), width)
	}
	values := make([]int32, len(fields))
	for i, field := range fields {
		v, err := strconv.ParseInt(field, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: line 3: invalid value %q at index %d", ErrMalformed, field, i)
		}
		values[i] = int32(v)
	}

	return &File{
		Width:  width,
		Region: plane.Region{XMin: bounds[0], XMax: bounds[1], YMin: bounds[2], YMax: bounds[3]},
		Values: values,
	}, nil
}

// ReadFile はpathの行列ファイルをパースする
func ReadFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

// readLine は改行までを読む。最終行は改行なしでもよい
func readLine(br *bufio.Reader, n int) (string, error) {
	line, err := br.ReadString('\n')
	if err == io.EOF && line != "" {
		return line, nil
	}
	if err == io.EOF {
		return "", fmt.Errorf("%w: missing line %d", ErrMalformed, n)
	}
	if err != nil {
		return "", err
	}
	return line, nil
}
