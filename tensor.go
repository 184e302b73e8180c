package main

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// Tensor is a node in a dynamically built computation graph over dense
// row-major float64 matrices. Leaf tensors hold data directly (parameters,
// coordinate batches, constants); non-leaf tensors remember their inputs and
// a vector-Jacobian-product closure.
//
// The vjp closures are themselves built from Tensor operations, so the
// output of Grad is again a graph node and can be differentiated. That is
// what allows the wave residual to take second derivatives of the field with
// respect to its inputs and still backpropagate into the weights.
type Tensor struct {
	rows, cols int
	data       []float64

	inputs []*Tensor
	vjp    func(g *Tensor) []*Tensor
}

// NewTensor creates a zero-filled leaf tensor.
func NewTensor(rows, cols int) *Tensor {
	return &Tensor{rows: rows, cols: cols, data: make([]float64, rows*cols)}
}

// NewTensorFrom creates a leaf tensor backed by a copy of data.
func NewTensorFrom(rows, cols int, data []float64) *Tensor {
	if len(data) != rows*cols {
		panic(fmt.Sprintf("tensor: data length %d does not match %dx%d", len(data), rows, cols))
	}
	t := NewTensor(rows, cols)
	copy(t.data, data)
	return t
}

func fullTensor(rows, cols int, v float64) *Tensor {
	t := NewTensor(rows, cols)
	for i := range t.data {
		t.data[i] = v
	}
	return t
}

// Dims returns (rows, cols).
func (t *Tensor) Dims() (int, int) { return t.rows, t.cols }

// At returns the element at row i, column j.
func (t *Tensor) At(i, j int) float64 { return t.data[i*t.cols+j] }

// SetAt stores v at row i, column j. Valid on leaf tensors only; mutating an
// interior node would desynchronize it from the graph that produced it.
func (t *Tensor) SetAt(i, j int, v float64) {
	if t.vjp != nil {
		panic("tensor: SetAt on non-leaf tensor")
	}
	t.data[i*t.cols+j] = v
}

// Value returns the single element of a 1x1 tensor.
func (t *Tensor) Value() float64 {
	if t.rows != 1 || t.cols != 1 {
		panic(fmt.Sprintf("tensor: Value on %dx%d tensor", t.rows, t.cols))
	}
	return t.data[0]
}

// Clone returns an independent leaf copy of the tensor's values.
func (t *Tensor) Clone() *Tensor {
	return NewTensorFrom(t.rows, t.cols, t.data)
}

// Data returns the backing slice. Callers must not resize it.
func (t *Tensor) Data() []float64 { return t.data }

func (t *Tensor) dense() *mat.Dense {
	return mat.NewDense(t.rows, t.cols, t.data)
}

func (t *Tensor) sameShape(o *Tensor) bool {
	return t.rows == o.rows && t.cols == o.cols
}

func shapeCheck(op string, a, b *Tensor) {
	if !a.sameShape(b) {
		panic(fmt.Sprintf("tensor: %s shape mismatch %dx%d vs %dx%d", op, a.rows, a.cols, b.rows, b.cols))
	}
}

// parallelFor splits [0, n) into contiguous chunks across the available
// cores. Small ranges run inline; goroutine fan-out below this size costs
// more than it saves.
const parallelThreshold = 1 << 13

func parallelFor(n int, body func(start, end int)) {
	workers := runtime.NumCPU()
	if n < parallelThreshold || workers < 2 {
		body(0, n)
		return
	}
	chunk := (n + workers - 1) / workers
	var wg sync.WaitGroup
	for start := 0; start < n; start += chunk {
		end := start + chunk
		if end > n {
			end = n
		}
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			body(s, e)
		}(start, end)
	}
	wg.Wait()
}

// MatMul returns a @ b.
func MatMul(a, b *Tensor) *Tensor {
	if a.cols != b.rows {
		panic(fmt.Sprintf("tensor: matmul inner dims %d vs %d", a.cols, b.rows))
	}
	out := NewTensor(a.rows, b.cols)
	out.dense().Mul(a.dense(), b.dense())
	out.inputs = []*Tensor{a, b}
	out.vjp = func(g *Tensor) []*Tensor {
		return []*Tensor{MatMul(g, Transpose(b)), MatMul(Transpose(a), g)}
	}
	return out
}

// Transpose returns the matrix transpose.
func Transpose(a *Tensor) *Tensor {
	out := NewTensor(a.cols, a.rows)
	for i := 0; i < a.rows; i++ {
		for j := 0; j < a.cols; j++ {
			out.data[j*out.cols+i] = a.data[i*a.cols+j]
		}
	}
	out.inputs = []*Tensor{a}
	out.vjp = func(g *Tensor) []*Tensor {
		return []*Tensor{Transpose(g)}
	}
	return out
}

// Add returns a + b for tensors of identical shape.
func Add(a, b *Tensor) *Tensor {
	shapeCheck("add", a, b)
	out := NewTensor(a.rows, a.cols)
	parallelFor(len(out.data), func(s, e int) {
		for i := s; i < e; i++ {
			out.data[i] = a.data[i] + b.data[i]
		}
	})
	out.inputs = []*Tensor{a, b}
	out.vjp = func(g *Tensor) []*Tensor {
		return []*Tensor{g, g}
	}
	return out
}

// Sub returns a - b for tensors of identical shape.
func Sub(a, b *Tensor) *Tensor {
	shapeCheck("sub", a, b)
	out := NewTensor(a.rows, a.cols)
	parallelFor(len(out.data), func(s, e int) {
		for i := s; i < e; i++ {
			out.data[i] = a.data[i] - b.data[i]
		}
	})
	out.inputs = []*Tensor{a, b}
	out.vjp = func(g *Tensor) []*Tensor {
		return []*Tensor{g, Scale(g, -1)}
	}
	return out
}

// Mul returns the elementwise (Hadamard) product.
func Mul(a, b *Tensor) *Tensor {
	shapeCheck("mul", a, b)
	out := NewTensor(a.rows, a.cols)
	parallelFor(len(out.data), func(s, e int) {
		for i := s; i < e; i++ {
			out.data[i] = a.data[i] * b.data[i]
		}
	})
	out.inputs = []*Tensor{a, b}
	out.vjp = func(g *Tensor) []*Tensor {
		return []*Tensor{Mul(g, b), Mul(g, a)}
	}
	return out
}

// Square returns the elementwise square.
func Square(a *Tensor) *Tensor { return Mul(a, a) }

// Scale returns a * s for a scalar constant s.
func Scale(a *Tensor, s float64) *Tensor {
	out := NewTensor(a.rows, a.cols)
	parallelFor(len(out.data), func(st, e int) {
		for i := st; i < e; i++ {
			out.data[i] = a.data[i] * s
		}
	})
	out.inputs = []*Tensor{a}
	out.vjp = func(g *Tensor) []*Tensor {
		return []*Tensor{Scale(g, s)}
	}
	return out
}

// AddScalar returns a + s for a scalar constant s.
func AddScalar(a *Tensor, s float64) *Tensor {
	out := NewTensor(a.rows, a.cols)
	for i := range out.data {
		out.data[i] = a.data[i] + s
	}
	out.inputs = []*Tensor{a}
	out.vjp = func(g *Tensor) []*Tensor {
		return []*Tensor{g}
	}
	return out
}

// Tanh returns the elementwise hyperbolic tangent.
func Tanh(a *Tensor) *Tensor {
	out := NewTensor(a.rows, a.cols)
	parallelFor(len(out.data), func(s, e int) {
		for i := s; i < e; i++ {
			out.data[i] = math.Tanh(a.data[i])
		}
	})
	out.inputs = []*Tensor{a}
	out.vjp = func(g *Tensor) []*Tensor {
		// d/dx tanh(x) = 1 - tanh(x)^2, expressed through graph ops so the
		// derivative remains differentiable.
		ones := fullTensor(out.rows, out.cols, 1)
		return []*Tensor{Mul(g, Sub(ones, Mul(out, out)))}
	}
	return out
}

// AddRow returns a with the 1xC row tensor b added to every row.
func AddRow(a, b *Tensor) *Tensor {
	if b.rows != 1 || b.cols != a.cols {
		panic(fmt.Sprintf("tensor: addrow wants 1x%d, got %dx%d", a.cols, b.rows, b.cols))
	}
	out := NewTensor(a.rows, a.cols)
	for i := 0; i < a.rows; i++ {
		for j := 0; j < a.cols; j++ {
			out.data[i*a.cols+j] = a.data[i*a.cols+j] + b.data[j]
		}
	}
	out.inputs = []*Tensor{a, b}
	out.vjp = func(g *Tensor) []*Tensor {
		return []*Tensor{g, ColSum(g)}
	}
	return out
}

// ColSum collapses an RxC tensor to 1xC by summing rows.
func ColSum(a *Tensor) *Tensor {
	out := NewTensor(1, a.cols)
	for i := 0; i < a.rows; i++ {
		for j := 0; j < a.cols; j++ {
			out.data[j] += a.data[i*a.cols+j]
		}
	}
	out.inputs = []*Tensor{a}
	out.vjp = func(g *Tensor) []*Tensor {
		return []*Tensor{RowSpread(g, a.rows)}
	}
	return out
}

// RowSpread repeats a 1xC tensor into RxC.
func RowSpread(a *Tensor, rows int) *Tensor {
	if a.rows != 1 {
		panic(fmt.Sprintf("tensor: rowspread wants a row tensor, got %dx%d", a.rows, a.cols))
	}
	out := NewTensor(rows, a.cols)
	for i := 0; i < rows; i++ {
		copy(out.data[i*a.cols:(i+1)*a.cols], a.data)
	}
	out.inputs = []*Tensor{a}
	out.vjp = func(g *Tensor) []*Tensor {
		return []*Tensor{ColSum(g)}
	}
	return out
}

// Sum reduces all elements to a 1x1 tensor.
func Sum(a *Tensor) *Tensor {
	total := 0.0
	for _, v := range a.data {
		total += v
	}
	out := NewTensorFrom(1, 1, []float64{total})
	out.inputs = []*Tensor{a}
	out.vjp = func(g *Tensor) []*Tensor {
		return []*Tensor{Spread(g, a.rows, a.cols)}
	}
	return out
}

// Mean reduces all elements to their arithmetic mean.
func Mean(a *Tensor) *Tensor {
	return Scale(Sum(a), 1/float64(a.rows*a.cols))
}

// Spread repeats a 1x1 tensor into RxC.
func Spread(a *Tensor, rows, cols int) *Tensor {
	if a.rows != 1 || a.cols != 1 {
		panic(fmt.Sprintf("tensor: spread wants a scalar, got %dx%d", a.rows, a.cols))
	}
	out := fullTensor(rows, cols, a.data[0])
	out.inputs = []*Tensor{a}
	out.vjp = func(g *Tensor) []*Tensor {
		return []*Tensor{Sum(g)}
	}
	return out
}

// Col extracts column j as an Rx1 tensor.
func Col(a *Tensor, j int) *Tensor {
	if j < 0 || j >= a.cols {
		panic(fmt.Sprintf("tensor: column %d out of range [0,%d)", j, a.cols))
	}
	out := NewTensor(a.rows, 1)
	for i := 0; i < a.rows; i++ {
		out.data[i] = a.data[i*a.cols+j]
	}
	out.inputs = []*Tensor{a}
	out.vjp = func(g *Tensor) []*Tensor {
		return []*Tensor{PadCol(g, j, a.cols)}
	}
	return out
}

// PadCol places an Rx1 tensor into column j of an otherwise-zero RxC tensor.
func PadCol(a *Tensor, j, cols int) *Tensor {
	if a.cols != 1 {
		panic(fmt.Sprintf("tensor: padcol wants a column tensor, got %dx%d", a.rows, a.cols))
	}
	out := NewTensor(a.rows, cols)
	for i := 0; i < a.rows; i++ {
		out.data[i*cols+j] = a.data[i]
	}
	out.inputs = []*Tensor{a}
	out.vjp = func(g *Tensor) []*Tensor {
		return []*Tensor{Col(g, j)}
	}
	return out
}

// topoSort returns the nodes reachable from y in dependency order.
func topoSort(y *Tensor) []*Tensor {
	var order []*Tensor
	seen := make(map[*Tensor]bool)
	var visit func(t *Tensor)
	visit = func(t *Tensor) {
		if seen[t] {
			return
		}
		seen[t] = true
		for _, in := range t.inputs {
			visit(in)
		}
		order = append(order, t)
	}
	visit(y)
	return order
}

// Grad computes d(y)/d(wrt_i) for a scalar y via one reverse sweep. The
// returned gradients are graph nodes, so a second Grad call over them yields
// second derivatives.
//
// A wrt tensor that y does not depend on is an error, never a silent zero:
// in residual training a zero input-gradient would corrupt the PDE residual
// without any visible symptom.
func Grad(y *Tensor, wrt ...*Tensor) ([]*Tensor, error) {
	if y.rows != 1 || y.cols != 1 {
		return nil, fmt.Errorf("grad: output must be scalar, got %dx%d", y.rows, y.cols)
	}
	order := topoSort(y)

	grads := make(map[*Tensor]*Tensor, len(order))
	grads[y] = fullTensor(1, 1, 1)

	for i := len(order) - 1; i >= 0; i-- {
		node := order[i]
		g, ok := grads[node]
		if !ok || node.vjp == nil {
			continue
		}
		inGrads := node.vjp(g)
		if len(inGrads) != len(node.inputs) {
			panic("tensor: vjp arity mismatch")
		}
		for k, in := range node.inputs {
			if prev, ok := grads[in]; ok {
				grads[in] = Add(prev, inGrads[k])
			} else {
				grads[in] = inGrads[k]
			}
		}
	}

	out := make([]*Tensor, len(wrt))
	for i, w := range wrt {
		g, ok := grads[w]
		if !ok {
			return nil, fmt.Errorf("grad: target %d (%dx%d) is not tracked by the computation graph", i, w.rows, w.cols)
		}
		out[i] = g
	}
	return out, nil
}
