package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/rand"
	"time"

	"github.com/mjibson/go-dsp/fft"
)

// Spectral-operator variant: instead of enforcing the PDE residual, a
// Fourier neural operator is fit by ordinary supervised regression against a
// target field. The spectral block applies a global linear operator by
// truncating the frequency representation: the truncation is both a low-pass
// regularizer and the source of the compute savings.

// fft3 transforms a flattened (nx, ny, nz) complex field along all three
// axes, one axis at a time. Index layout is (ix*ny+iy)*nz+iz. The inverse
// transform carries go-dsp's 1/len normalization per axis, so a forward
// followed by an inverse is the identity.
func fft3(data []complex128, nx, ny, nz int, inverse bool) []complex128 {
	transform := fft.FFT
	if inverse {
		transform = fft.IFFT
	}

	out := append([]complex128(nil), data...)

	// z lines are contiguous.
	for ix := 0; ix < nx; ix++ {
		for iy := 0; iy < ny; iy++ {
			base := (ix*ny + iy) * nz
			copy(out[base:base+nz], transform(out[base:base+nz]))
		}
	}

	// y lines, stride nz.
	line := make([]complex128, ny)
	for ix := 0; ix < nx; ix++ {
		for iz := 0; iz < nz; iz++ {
			for iy := 0; iy < ny; iy++ {
				line[iy] = out[(ix*ny+iy)*nz+iz]
			}
			t := transform(line)
			for iy := 0; iy < ny; iy++ {
				out[(ix*ny+iy)*nz+iz] = t[iy]
			}
		}
	}

	// x lines, stride ny*nz.
	line = make([]complex128, nx)
	for iy := 0; iy < ny; iy++ {
		for iz := 0; iz < nz; iz++ {
			for ix := 0; ix < nx; ix++ {
				line[ix] = out[(ix*ny+iy)*nz+iz]
			}
			t := transform(line)
			for ix := 0; ix < nx; ix++ {
				out[(ix*ny+iy)*nz+iz] = t[ix]
			}
		}
	}

	return out
}

// SpectralConv3D mixes channels in frequency space after truncating to the
// lowest Modes1 x Modes2 x Modes3 coefficients. Real and imaginary parts
// carry independent mixing weights.
type SpectralConv3D struct {
	InCh, OutCh            int
	Modes1, Modes2, Modes3 int

	// (InCh*OutCh) x (Modes1*Modes2*Modes3) leaves, row index i*OutCh+o.
	Wre *Tensor
	Wim *Tensor
}

// NewSpectralConv3D initializes mixing weights uniformly at the 1/(in*out)
// scale customary for spectral layers.
func NewSpectralConv3D(inCh, outCh, m1, m2, m3 int, rng *rand.Rand) *SpectralConv3D {
	sc := &SpectralConv3D{
		InCh: inCh, OutCh: outCh,
		Modes1: m1, Modes2: m2, Modes3: m3,
		Wre: NewTensor(inCh*outCh, m1*m2*m3),
		Wim: NewTensor(inCh*outCh, m1*m2*m3),
	}
	scale := 1.0 / float64(inCh*outCh)
	for i := range sc.Wre.data {
		sc.Wre.data[i] = (rng.Float64()*2 - 1) * scale
		sc.Wim.data[i] = (rng.Float64()*2 - 1) * scale
	}
	return sc
}

type specCache struct {
	xhat       [][]complex128
	nx, ny, nz int
}

// Apply runs the block on one sample: channels x (nx*ny*nz) in, the same
// shape out, regardless of the truncation order. Batches are handled by the
// caller looping samples.
func (sc *SpectralConv3D) Apply(x [][]float64, nx, ny, nz int) ([][]float64, error) {
	if len(x) != sc.InCh {
		return nil, fmt.Errorf("spectral: expected %d input channels, got %d", sc.InCh, len(x))
	}
	if sc.Modes1 > nx || sc.Modes2 > ny || sc.Modes3 > nz {
		return nil, fmt.Errorf("spectral: modes %d/%d/%d exceed grid %d/%d/%d",
			sc.Modes1, sc.Modes2, sc.Modes3, nx, ny, nz)
	}
	n := nx * ny * nz
	for c := range x {
		if len(x[c]) != n {
			return nil, fmt.Errorf("spectral: channel %d has %d points, want %d", c, len(x[c]), n)
		}
	}
	y, _ := sc.forward(x, nx, ny, nz)
	return y, nil
}

func (sc *SpectralConv3D) forward(x [][]float64, nx, ny, nz int) ([][]float64, *specCache) {
	n := nx * ny * nz
	cache := &specCache{nx: nx, ny: ny, nz: nz, xhat: make([][]complex128, sc.InCh)}

	for i := 0; i < sc.InCh; i++ {
		xc := make([]complex128, n)
		for p, v := range x[i] {
			xc[p] = complex(v, 0)
		}
		cache.xhat[i] = fft3(xc, nx, ny, nz, false)
	}

	y := make([][]float64, sc.OutCh)
	for o := 0; o < sc.OutCh; o++ {
		yhat := make([]complex128, n)
		for kx := 0; kx < sc.Modes1; kx++ {
			for ky := 0; ky < sc.Modes2; ky++ {
				for kz := 0; kz < sc.Modes3; kz++ {
					idx := (kx*ny+ky)*nz + kz
					km := (kx*sc.Modes2+ky)*sc.Modes3 + kz
					var re, im float64
					for i := 0; i < sc.InCh; i++ {
						w := (i*sc.OutCh + o) * sc.Wre.cols
						re += sc.Wre.data[w+km] * real(cache.xhat[i][idx])
						im += sc.Wim.data[w+km] * imag(cache.xhat[i][idx])
					}
					yhat[idx] = complex(re, im)
				}
			}
		}
		// Zero-padding back to the full spectrum is implicit: all
		// coefficients outside the retained block stay zero.
		inv := fft3(yhat, nx, ny, nz, true)
		y[o] = make([]float64, n)
		for p := range inv {
			y[o][p] = real(inv[p])
		}
	}
	return y, cache
}

// backward propagates an output gradient through the block.
//
// With y = Re(IFFT(Yhat)) and go-dsp's normalized inverse, the gradient of
// the spectrum is FFT(g)/N; the gradient of a real input under x -> FFT(x)
// is N * Re(IFFT(ghat)). The mixing is linear in the weights, so its weight
// gradients are plain products of cached spectra and the spectrum gradient.
func (sc *SpectralConv3D) backward(cache *specCache, gout [][]float64) (gin [][]float64, gWre, gWim []float64) {
	nx, ny, nz := cache.nx, cache.ny, cache.nz
	n := nx * ny * nz
	invN := 1.0 / float64(n)

	ghat := make([][]complex128, sc.OutCh)
	for o := 0; o < sc.OutCh; o++ {
		gc := make([]complex128, n)
		for p, v := range gout[o] {
			gc[p] = complex(v, 0)
		}
		gc = fft3(gc, nx, ny, nz, false)
		for p := range gc {
			gc[p] *= complex(invN, 0)
		}
		ghat[o] = gc
	}

	gWre = make([]float64, len(sc.Wre.data))
	gWim = make([]float64, len(sc.Wim.data))
	gxhat := make([][]complex128, sc.InCh)
	for i := range gxhat {
		gxhat[i] = make([]complex128, n)
	}

	for kx := 0; kx < sc.Modes1; kx++ {
		for ky := 0; ky < sc.Modes2; ky++ {
			for kz := 0; kz < sc.Modes3; kz++ {
				idx := (kx*ny+ky)*nz + kz
				km := (kx*sc.Modes2+ky)*sc.Modes3 + kz
				for i := 0; i < sc.InCh; i++ {
					w := (i*sc.OutCh)*sc.Wre.cols + km
					xre := real(cache.xhat[i][idx])
					xim := imag(cache.xhat[i][idx])
					var re, im float64
					for o := 0; o < sc.OutCh; o++ {
						gre := real(ghat[o][idx])
						gim := imag(ghat[o][idx])
						gWre[w+o*sc.Wre.cols] += xre * gre
						gWim[w+o*sc.Wim.cols] += xim * gim
						re += sc.Wre.data[w+o*sc.Wre.cols] * gre
						im += sc.Wim.data[w+o*sc.Wim.cols] * gim
					}
					gxhat[i][idx] = complex(re, im)
				}
			}
		}
	}

	gin = make([][]float64, sc.InCh)
	for i := 0; i < sc.InCh; i++ {
		inv := fft3(gxhat[i], nx, ny, nz, true)
		gin[i] = make([]float64, n)
		for p := range inv {
			gin[i][p] = real(inv[p]) * float64(n)
		}
	}
	return gin, gWre, gWim
}

// FNO3D stacks spectral blocks between a channel-lifting layer and a
// two-stage projection, each block paired with a pointwise bypass so the
// truncated path never has to carry the identity.
type FNO3D struct {
	cfg  FNOConfig
	inCh int

	lift  *Tensor // inCh x width
	liftB *Tensor // 1 x width

	specs   []*SpectralConv3D
	bypassW []*Tensor // width x width
	bypassB []*Tensor // 1 x width

	proj1  *Tensor // width x projWidth
	proj1B *Tensor // 1 x projWidth
	proj2  *Tensor // projWidth x 1
	proj2B *Tensor // 1 x 1
}

// NewFNO3D builds the stacked operator model.
func NewFNO3D(cfg FNOConfig, inCh int, rng *rand.Rand) (*FNO3D, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if inCh < 1 {
		return nil, fmt.Errorf("fno: need at least one input channel, got %d", inCh)
	}

	f := &FNO3D{cfg: cfg, inCh: inCh}
	xavier := func(in, out int) *Tensor {
		limit := math.Sqrt(6.0 / float64(in+out))
		t := NewTensor(in, out)
		for i := range t.data {
			t.data[i] = (rng.Float64()*2 - 1) * limit
		}
		return t
	}

	f.lift = xavier(inCh, cfg.Width)
	f.liftB = NewTensor(1, cfg.Width)
	for l := 0; l < cfg.Blocks; l++ {
		f.specs = append(f.specs, NewSpectralConv3D(cfg.Width, cfg.Width, cfg.Modes1, cfg.Modes2, cfg.Modes3, rng))
		f.bypassW = append(f.bypassW, xavier(cfg.Width, cfg.Width))
		f.bypassB = append(f.bypassB, NewTensor(1, cfg.Width))
	}
	f.proj1 = xavier(cfg.Width, cfg.ProjWidth)
	f.proj1B = NewTensor(1, cfg.ProjWidth)
	f.proj2 = xavier(cfg.ProjWidth, 1)
	f.proj2B = NewTensor(1, 1)
	return f, nil
}

// Params returns every trainable leaf in a stable order.
func (f *FNO3D) Params() []*Tensor {
	params := []*Tensor{f.lift, f.liftB}
	for l := range f.specs {
		params = append(params, f.specs[l].Wre, f.specs[l].Wim, f.bypassW[l], f.bypassB[l])
	}
	return append(params, f.proj1, f.proj1B, f.proj2, f.proj2B)
}

type fnoCache struct {
	input      [][]float64
	blockIn    [][][]float64
	blockOut   [][][]float64
	specCaches []*specCache
	projHidden [][]float64
}

func pointwise(w, b *Tensor, x [][]float64, n int) [][]float64 {
	in, out := w.Dims()
	y := make([][]float64, out)
	for o := 0; o < out; o++ {
		y[o] = make([]float64, n)
		bias := b.data[o]
		for p := 0; p < n; p++ {
			y[o][p] = bias
		}
	}
	for i := 0; i < in; i++ {
		for o := 0; o < out; o++ {
			wv := w.data[i*out+o]
			src := x[i]
			dst := y[o]
			for p := 0; p < n; p++ {
				dst[p] += wv * src[p]
			}
		}
	}
	return y
}

func (f *FNO3D) forward(x [][]float64) ([]float64, *fnoCache) {
	s := f.cfg.GridSize
	n := s * s * s
	cache := &fnoCache{input: x}

	h := pointwise(f.lift, f.liftB, x, n)

	last := len(f.specs) - 1
	for l, spec := range f.specs {
		cache.blockIn = append(cache.blockIn, h)
		specOut, sc := spec.forward(h, s, s, s)
		cache.specCaches = append(cache.specCaches, sc)
		byp := pointwise(f.bypassW[l], f.bypassB[l], h, n)

		out := make([][]float64, f.cfg.Width)
		for o := 0; o < f.cfg.Width; o++ {
			out[o] = make([]float64, n)
			for p := 0; p < n; p++ {
				z := specOut[o][p] + byp[o][p]
				if l == last {
					out[o][p] = z
				} else {
					out[o][p] = math.Tanh(z)
				}
			}
		}
		cache.blockOut = append(cache.blockOut, out)
		h = out
	}

	ph := pointwise(f.proj1, f.proj1B, h, n)
	for j := range ph {
		for p := range ph[j] {
			ph[j][p] = math.Tanh(ph[j][p])
		}
	}
	cache.projHidden = ph

	out := make([]float64, n)
	for p := 0; p < n; p++ {
		v := f.proj2B.data[0]
		for j := 0; j < f.cfg.ProjWidth; j++ {
			v += f.proj2.data[j] * ph[j][p]
		}
		out[p] = v
	}
	return out, cache
}

// Predict evaluates the operator on one input field.
func (f *FNO3D) Predict(x [][]float64) []float64 {
	out, _ := f.forward(x)
	return out
}

// backward accumulates parameter gradients for one sample into grads, which
// must align with Params().
func (f *FNO3D) backward(cache *fnoCache, gOut []float64, grads []*Tensor) {
	s := f.cfg.GridSize
	n := s * s * s
	width := f.cfg.Width
	projW := f.cfg.ProjWidth

	gi := len(grads) - 4
	gProj1, gProj1B, gProj2, gProj2B := grads[gi], grads[gi+1], grads[gi+2], grads[gi+3]

	hLast := cache.blockOut[len(cache.blockOut)-1]

	// Projection head.
	gph := make([][]float64, projW)
	for j := 0; j < projW; j++ {
		gph[j] = make([]float64, n)
		w := f.proj2.data[j]
		for p := 0; p < n; p++ {
			gProj2.data[j] += cache.projHidden[j][p] * gOut[p]
			gph[j][p] = w * gOut[p]
		}
	}
	for p := 0; p < n; p++ {
		gProj2B.data[0] += gOut[p]
	}

	gh := make([][]float64, width)
	for o := 0; o < width; o++ {
		gh[o] = make([]float64, n)
	}
	for j := 0; j < projW; j++ {
		for p := 0; p < n; p++ {
			ph := cache.projHidden[j][p]
			gz := gph[j][p] * (1 - ph*ph)
			gProj1B.data[j] += gz
			for o := 0; o < width; o++ {
				gProj1.data[o*projW+j] += hLast[o][p] * gz
				gh[o][p] += f.proj1.data[o*projW+j] * gz
			}
		}
	}

	// Spectral blocks, last to first.
	last := len(f.specs) - 1
	for l := last; l >= 0; l-- {
		gWreT := grads[2+4*l]
		gWimT := grads[2+4*l+1]
		gBypW := grads[2+4*l+2]
		gBypB := grads[2+4*l+3]
		in := cache.blockIn[l]
		out := cache.blockOut[l]

		gz := make([][]float64, width)
		for o := 0; o < width; o++ {
			gz[o] = make([]float64, n)
			for p := 0; p < n; p++ {
				if l == last {
					gz[o][p] = gh[o][p]
				} else {
					gz[o][p] = gh[o][p] * (1 - out[o][p]*out[o][p])
				}
			}
		}

		for o := 0; o < width; o++ {
			for p := 0; p < n; p++ {
				gBypB.data[o] += gz[o][p]
			}
		}
		ginByp := make([][]float64, width)
		for i := 0; i < width; i++ {
			ginByp[i] = make([]float64, n)
		}
		for i := 0; i < width; i++ {
			for o := 0; o < width; o++ {
				w := f.bypassW[l].data[i*width+o]
				var acc float64
				for p := 0; p < n; p++ {
					acc += in[i][p] * gz[o][p]
					ginByp[i][p] += w * gz[o][p]
				}
				gBypW.data[i*width+o] += acc
			}
		}

		ginSpec, gWre, gWim := f.specs[l].backward(cache.specCaches[l], gz)
		for i := range gWre {
			gWreT.data[i] += gWre[i]
			gWimT.data[i] += gWim[i]
		}

		ghNext := make([][]float64, width)
		for i := 0; i < width; i++ {
			ghNext[i] = make([]float64, n)
			for p := 0; p < n; p++ {
				ghNext[i][p] = ginByp[i][p] + ginSpec[i][p]
			}
		}
		gh = ghNext
	}

	// Lift layer.
	gLift, gLiftB := grads[0], grads[1]
	for o := 0; o < width; o++ {
		for p := 0; p < n; p++ {
			gLiftB.data[o] += gh[o][p]
		}
	}
	for i := 0; i < f.inCh; i++ {
		for o := 0; o < width; o++ {
			var acc float64
			for p := 0; p < n; p++ {
				acc += cache.input[i][p] * gh[o][p]
			}
			gLift.data[i*width+o] += acc
		}
	}
}

// FNOSample is one supervised pair: input channels over the grid and the
// target field.
type FNOSample struct {
	Input  [][]float64
	Target []float64
}

// FNOResult is the training history of the regression variant.
type FNOResult struct {
	History   []float64 // MSE per epoch
	FinalLoss float64
	Elapsed   time.Duration
}

// Train fits the operator by full-batch MSE regression, sharing the Adam
// update and global-norm clipping with the residual trainer.
func (f *FNO3D) Train(ctx context.Context, samples []FNOSample, clipNorm float64, logInterval int) (*FNOResult, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("fno: empty training set")
	}
	start := time.Now()
	params := f.Params()
	opt := NewAdam(params, 0.9, 0.999, 1e-8)
	result := &FNOResult{}

	s := f.cfg.GridSize
	n := s * s * s

	for epoch := 0; epoch < f.cfg.Epochs; epoch++ {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		grads := make([]*Tensor, len(params))
		for i, p := range params {
			grads[i] = NewTensor(p.rows, p.cols)
		}

		mse := 0.0
		scale := 1.0 / float64(len(samples)*n)
		for _, sample := range samples {
			out, cache := f.forward(sample.Input)
			gOut := make([]float64, n)
			for p := 0; p < n; p++ {
				diff := out[p] - sample.Target[p]
				mse += diff * diff * scale
				gOut[p] = 2 * diff * scale
			}
			f.backward(cache, gOut, grads)
		}

		if math.IsNaN(mse) || math.IsInf(mse, 0) {
			return result, fmt.Errorf("fno: epoch %d: loss diverged (%g)", epoch, mse)
		}

		ClipGradNorm(grads, clipNorm)
		opt.Step(params, grads, f.cfg.LearningRate)
		result.History = append(result.History, mse)

		if epoch%logInterval == 0 || epoch == f.cfg.Epochs-1 {
			log.Printf("fno epoch %5d | mse %.3e", epoch, mse)
		}
	}

	result.FinalLoss = result.History[len(result.History)-1]
	result.Elapsed = time.Since(start)
	return result, nil
}

// MakeWaveOperatorDataset synthesizes supervised pairs for the operator: the
// input channels are the three normalized grid coordinates plus the initial
// displacement a * prod sin(pi x_i) with a random amplitude, the target is
// the field that initial state evolves into at targetTime under the 3D wave
// equation.
func MakeWaveOperatorDataset(cfg FNOConfig, waveSpeed float64, count int, rng *rand.Rand) []FNOSample {
	s := cfg.GridSize
	n := s * s * s
	omega := math.Sqrt(3) * math.Pi * waveSpeed
	decay := math.Cos(omega * cfg.TargetTime)

	coords := make([][]float64, 3)
	for d := range coords {
		coords[d] = make([]float64, n)
	}
	shape := make([]float64, n)
	for ix := 0; ix < s; ix++ {
		x := float64(ix) / float64(s-1)
		for iy := 0; iy < s; iy++ {
			y := float64(iy) / float64(s-1)
			for iz := 0; iz < s; iz++ {
				z := float64(iz) / float64(s-1)
				p := (ix*s+iy)*s + iz
				coords[0][p], coords[1][p], coords[2][p] = x, y, z
				shape[p] = math.Sin(math.Pi*x) * math.Sin(math.Pi*y) * math.Sin(math.Pi*z)
			}
		}
	}

	samples := make([]FNOSample, count)
	for k := range samples {
		amp := 0.5 + rng.Float64()
		ic := make([]float64, n)
		target := make([]float64, n)
		for p := 0; p < n; p++ {
			ic[p] = amp * shape[p]
			target[p] = amp * shape[p] * decay
		}
		samples[k] = FNOSample{
			Input:  [][]float64{coords[0], coords[1], coords[2], ic},
			Target: target,
		}
	}
	return samples
}
