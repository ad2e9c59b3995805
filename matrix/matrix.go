// Package matrix - row-major numeric buffers shared between the DSP, inference and decoding stages.
package matrix

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Size is the number of rows and columns written by a DSP stage.
type Size struct {
	Rows int
	Cols int
}

// Elements returns rows * cols.
func (s Size) Elements() int {
	return s.Rows * s.Cols
}

// Matrix is a row-major float32 matrix.
//
// The backing slice is owned by whoever created it. Slice() returns a view that
// shares storage with its parent, which is how the continuous feature buffer
// hands sub-windows to the DSP blocks.
type Matrix struct {
	rows   int
	cols   int
	buffer []float32
}

// NewMatrix creates a rows x cols matrix.
//
// Arguments:
//   - rows: Number of rows.
//   - cols: Number of columns.
//   - backing: Optional storage. When nil a zeroed buffer is allocated, otherwise
//     the slice is wrapped without copying and must hold at least rows*cols values.
//
// Returns:
//   - *Matrix: The matrix.
//
// Example:
//
// ```go
//
//	m := matrix.NewMatrix(2, 3, nil)
//	m.Set(1, 2, 0.5)
//
// ```
func NewMatrix(rows, cols int, backing []float32) *Matrix {
	if backing == nil {
		backing = make([]float32, rows*cols)
	}
	return &Matrix{
		rows:   rows,
		cols:   cols,
		buffer: backing[:rows*cols],
	}
}

// Rows returns the number of rows.
func (m *Matrix) Rows() int { return m.rows }

// Cols returns the number of columns.
func (m *Matrix) Cols() int { return m.cols }

// Len returns rows * cols.
func (m *Matrix) Len() int { return m.rows * m.cols }

// Buffer returns the underlying row-major storage.
func (m *Matrix) Buffer() []float32 { return m.buffer }

// At returns the value at (row, col).
func (m *Matrix) At(row, col int) float32 {
	return m.buffer[row*m.cols+col]
}

// Set stores v at (row, col).
func (m *Matrix) Set(row, col int, v float32) {
	m.buffer[row*m.cols+col] = v
}

// Row returns a view of a single row.
func (m *Matrix) Row(row int) []float32 {
	return m.buffer[row*m.cols : (row+1)*m.cols]
}

// Slice returns a 1 x n view over the flat buffer starting at offset.
//
// Arguments:
//   - offset: Flat index of the first element.
//   - n: Number of elements in the view.
//
// Returns:
//   - *Matrix: A matrix sharing storage with m.
//   - error: If the window does not fit in m.
func (m *Matrix) Slice(offset, n int) (*Matrix, error) {
	if offset < 0 || n < 0 || offset+n > len(m.buffer) {
		return nil, errors.Errorf("window [%d:%d] outside matrix of %d elements",
			offset, offset+n, len(m.buffer))
	}
	return &Matrix{rows: 1, cols: n, buffer: m.buffer[offset : offset+n : offset+n]}, nil
}

// Clone returns a deep copy.
func (m *Matrix) Clone() *Matrix {
	buf := make([]float32, len(m.buffer))
	copy(buf, m.buffer)
	return &Matrix{rows: m.rows, cols: m.cols, buffer: buf}
}

// Scale multiplies every element by f.
func (m *Matrix) Scale(f float32) {
	for i := range m.buffer {
		m.buffer[i] *= f
	}
}

// Add adds f to every element.
func (m *Matrix) Add(f float32) {
	for i := range m.buffer {
		m.buffer[i] += f
	}
}

// Subtract subtracts f from every element.
func (m *Matrix) Subtract(f float32) {
	for i := range m.buffer {
		m.buffer[i] -= f
	}
}

// FromDense copies a two-dimensional float32 dense tensor into a new Matrix.
//
// Arguments:
//   - d: The dense tensor. Must be float32 and of rank 1 or 2.
//
// Returns:
//   - *Matrix: The matrix.
//   - error: If the tensor has an unsupported type or rank.
func FromDense(d *tensor.Dense) (*Matrix, error) {
	data, ok := d.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("unsupported dense dtype %v", d.Dtype())
	}
	shape := d.Shape()
	var rows, cols int
	switch len(shape) {
	case 1:
		rows, cols = 1, shape[0]
	case 2:
		rows, cols = shape[0], shape[1]
	default:
		return nil, errors.Errorf("unsupported dense rank %d", len(shape))
	}
	buf := make([]float32, rows*cols)
	copy(buf, data)
	return NewMatrix(rows, cols, buf), nil
}

// IntMatrix is a row-major int32 matrix.
type IntMatrix struct {
	rows   int
	cols   int
	buffer []int32
}

// NewIntMatrix creates a rows x cols int32 matrix, allocating when backing is nil.
func NewIntMatrix(rows, cols int, backing []int32) *IntMatrix {
	if backing == nil {
		backing = make([]int32, rows*cols)
	}
	return &IntMatrix{rows: rows, cols: cols, buffer: backing[:rows*cols]}
}

// Rows returns the number of rows.
func (m *IntMatrix) Rows() int { return m.rows }

// Cols returns the number of columns.
func (m *IntMatrix) Cols() int { return m.cols }

// Buffer returns the underlying row-major storage.
func (m *IntMatrix) Buffer() []int32 { return m.buffer }

// At returns the value at (row, col).
func (m *IntMatrix) At(row, col int) int32 {
	return m.buffer[row*m.cols+col]
}

// Set stores v at (row, col).
func (m *IntMatrix) Set(row, col int, v int32) {
	m.buffer[row*m.cols+col] = v
}
