package cpu

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/stylize/internal/parallel"
	"github.com/born-ml/stylize/internal/tensor"
)

func raw32(t *testing.T, shape tensor.Shape, data []float32) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.NewRaw(shape, tensor.Float32, tensor.CPU)
	require.NoError(t, err)
	copy(r.AsFloat32(), data)
	return r
}

func randRaw(t *testing.T, rng *rand.Rand, shape tensor.Shape) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.NewRaw(shape, tensor.Float32, tensor.CPU)
	require.NoError(t, err)
	for i := range r.AsFloat32() {
		r.AsFloat32()[i] = float32(rng.NormFloat64())
	}
	return r
}

func assertClose(t *testing.T, want, got []float32, tol float64) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		if math.Abs(float64(want[i]-got[i])) > tol {
			t.Fatalf("index %d: want %v, got %v", i, want[i], got[i])
		}
	}
}

// backends returns a sequential and a parallel backend so both code paths run.
func backends() map[string]*CPUBackend {
	return map[string]*CPUBackend{
		"sequential": NewWithConfig(parallel.Config{Enabled: false}),
		"parallel":   NewWithConfig(parallel.Config{Enabled: true, NumWorkers: 4, MinChunkSize: 1}),
	}
}

func TestBackendMetadata(t *testing.T) {
	b := New()
	assert.Equal(t, "CPU", b.Name())
	assert.Equal(t, tensor.CPU, b.Device())
}

func TestElementwiseBroadcast(t *testing.T) {
	b := New()
	x := raw32(t, tensor.Shape{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	row := raw32(t, tensor.Shape{3}, []float32{10, 20, 30})
	col := raw32(t, tensor.Shape{2, 1}, []float32{2, 3})

	assertClose(t, []float32{11, 22, 33, 14, 25, 36}, b.Add(x, row).AsFloat32(), 0)
	assertClose(t, []float32{-9, -18, -27, -6, -15, -24}, b.Sub(x, row).AsFloat32(), 0)
	assertClose(t, []float32{2, 4, 6, 12, 15, 18}, b.Mul(x, col).AsFloat32(), 0)
	assertClose(t, []float32{0.5, 1, 1.5, 2, 2.5, 3}, b.MulScalar(x, 0.5).AsFloat32(), 0)

	assert.Panics(t, func() {
		b.Add(x, raw32(t, tensor.Shape{2}, []float32{1, 2}))
	})
}

func TestElementwiseDoesNotAlias(t *testing.T) {
	b := New()
	x := raw32(t, tensor.Shape{2}, []float32{1, 2})
	y := b.Add(x, x)
	assert.NotSame(t, x, y)
	assert.Equal(t, []float32{1, 2}, x.AsFloat32())
}

func TestReLU(t *testing.T) {
	b := New()
	x := raw32(t, tensor.Shape{4}, []float32{-1, 0, 0.5, 3})
	assertClose(t, []float32{0, 0, 0.5, 3}, b.ReLU(x).AsFloat32(), 0)

	nan := raw32(t, tensor.Shape{1}, []float32{float32(math.NaN())})
	assert.True(t, math.IsNaN(float64(b.ReLU(nan).AsFloat32()[0])))
}

func TestSumAndSumDim(t *testing.T) {
	b := New()
	x := raw32(t, tensor.Shape{2, 3}, []float32{1, 2, 3, 4, 5, 6})

	s := b.Sum(x)
	assert.Empty(t, s.Shape())
	assert.Equal(t, float32(21), s.AsFloat32()[0])

	rows := b.SumDim(x, 0, false)
	assert.Equal(t, tensor.Shape{3}, rows.Shape())
	assertClose(t, []float32{5, 7, 9}, rows.AsFloat32(), 0)

	cols := b.SumDim(x, -1, true)
	assert.Equal(t, tensor.Shape{2, 1}, cols.Shape())
	assertClose(t, []float32{6, 15}, cols.AsFloat32(), 0)
}

func TestReshapeCopies(t *testing.T) {
	b := New()
	x := raw32(t, tensor.Shape{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	y := b.Reshape(x, tensor.Shape{3, 2})
	assert.Equal(t, tensor.Shape{3, 2}, y.Shape())
	y.AsFloat32()[0] = 100
	assert.Equal(t, float32(1), x.AsFloat32()[0])

	assert.Panics(t, func() { b.Reshape(x, tensor.Shape{4}) })
}

func TestTranspose(t *testing.T) {
	for name, b := range backends() {
		t.Run(name, func(t *testing.T) {
			x := raw32(t, tensor.Shape{2, 3}, []float32{1, 2, 3, 4, 5, 6})
			y := b.Transpose(x)
			assert.Equal(t, tensor.Shape{3, 2}, y.Shape())
			assertClose(t, []float32{1, 4, 2, 5, 3, 6}, y.AsFloat32(), 0)

			// NCHW -> NHWC -> NCHW round trip.
			rng := rand.New(rand.NewSource(1))
			z := randRaw(t, rng, tensor.Shape{2, 5, 3, 4})
			nhwc := b.Transpose(z, 0, 2, 3, 1)
			assert.Equal(t, tensor.Shape{2, 3, 4, 5}, nhwc.Shape())
			back := b.Transpose(nhwc, 0, 3, 1, 2)
			assertClose(t, z.AsFloat32(), back.AsFloat32(), 0)

			// Spot-check one element.
			zs := z.Shape().ComputeStrides()
			ns := nhwc.Shape().ComputeStrides()
			n, c, h, w := 1, 3, 2, 1
			assert.Equal(t, z.AsFloat32()[n*zs[0]+c*zs[1]+h*zs[2]+w*zs[3]],
				nhwc.AsFloat32()[n*ns[0]+h*ns[1]+w*ns[2]+c*ns[3]])
		})
	}
}

func TestTransposeInvalid(t *testing.T) {
	b := New()
	x := raw32(t, tensor.Shape{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	assert.Panics(t, func() { b.Transpose(x, 0, 0) })
	assert.Panics(t, func() { b.Transpose(x, 0, 1, 2) })
}

func TestBatchMatMul(t *testing.T) {
	b := New()
	rng := rand.New(rand.NewSource(2))
	batch, m, k, n := 2, 3, 4, 5
	x := randRaw(t, rng, tensor.Shape{batch, m, k})
	y := randRaw(t, rng, tensor.Shape{batch, k, n})

	got := b.BatchMatMul(x, y)
	require.Equal(t, tensor.Shape{batch, m, n}, got.Shape())

	want := make([]float32, batch*m*n)
	xd, yd := x.AsFloat32(), y.AsFloat32()
	for bi := 0; bi < batch; bi++ {
		for i := 0; i < m; i++ {
			for j := 0; j < n; j++ {
				var s float32
				for p := 0; p < k; p++ {
					s += xd[(bi*m+i)*k+p] * yd[(bi*k+p)*n+j]
				}
				want[(bi*m+i)*n+j] = s
			}
		}
	}
	assertClose(t, want, got.AsFloat32(), 1e-5)

	assert.Panics(t, func() { b.BatchMatMul(x, x) })
}

func TestBatchMatMulFloat64(t *testing.T) {
	b := New()
	x, err := tensor.NewRaw(tensor.Shape{1, 2, 2}, tensor.Float64, tensor.CPU)
	require.NoError(t, err)
	copy(x.AsFloat64(), []float64{1, 2, 3, 4})

	got := b.BatchMatMul(x, x)
	assert.Equal(t, []float64{7, 10, 15, 22}, got.AsFloat64())
}

// naiveConv2D is a direct reference convolution.
func naiveConv2D(in, k []float32, n, cin, h, w, cout, kh, kw, stride, pad int) ([]float32, int, int) {
	hOut := (h+2*pad-kh)/stride + 1
	wOut := (w+2*pad-kw)/stride + 1
	out := make([]float32, n*cout*hOut*wOut)
	for b := 0; b < n; b++ {
		for co := 0; co < cout; co++ {
			for oh := 0; oh < hOut; oh++ {
				for ow := 0; ow < wOut; ow++ {
					var s float32
					for ci := 0; ci < cin; ci++ {
						for i := 0; i < kh; i++ {
							for j := 0; j < kw; j++ {
								ih, iw := oh*stride-pad+i, ow*stride-pad+j
								if ih < 0 || ih >= h || iw < 0 || iw >= w {
									continue
								}
								s += in[((b*cin+ci)*h+ih)*w+iw] * k[((co*cin+ci)*kh+i)*kw+j]
							}
						}
					}
					out[((b*cout+co)*hOut+oh)*wOut+ow] = s
				}
			}
		}
	}
	return out, hOut, wOut
}

func TestConv2DMatchesDirect(t *testing.T) {
	tests := []struct {
		name                  string
		n, cin, h, w, cout, k int
		stride, pad           int
	}{
		{"vgg 3x3 pad 1", 1, 3, 7, 6, 4, 3, 1, 1},
		{"batch stride 2", 2, 2, 8, 8, 3, 3, 2, 0},
		{"1x1", 1, 5, 4, 4, 2, 1, 1, 0},
	}

	for _, tt := range tests {
		for name, b := range backends() {
			t.Run(tt.name+"/"+name, func(t *testing.T) {
				rng := rand.New(rand.NewSource(3))
				in := randRaw(t, rng, tensor.Shape{tt.n, tt.cin, tt.h, tt.w})
				k := randRaw(t, rng, tensor.Shape{tt.cout, tt.cin, tt.k, tt.k})

				got := b.Conv2D(in, k, tt.stride, tt.pad)
				want, hOut, wOut := naiveConv2D(in.AsFloat32(), k.AsFloat32(),
					tt.n, tt.cin, tt.h, tt.w, tt.cout, tt.k, tt.k, tt.stride, tt.pad)

				assert.Equal(t, tensor.Shape{tt.n, tt.cout, hOut, wOut}, got.Shape())
				assertClose(t, want, got.AsFloat32(), 1e-4)
			})
		}
	}
}

func TestConv2DBands(t *testing.T) {
	g := convGeom{CIn: 512, KH: 3, KW: 3, HOut: 1024, WOut: 1024}
	bands := g.bands()
	require.Greater(t, len(bands), 1)
	assert.Equal(t, 0, bands[0][0])
	assert.Equal(t, 1024, bands[len(bands)-1][1])
	for i := 1; i < len(bands); i++ {
		assert.Equal(t, bands[i-1][1], bands[i][0])
	}
}

func TestConv2DInvalid(t *testing.T) {
	b := New()
	in := raw32(t, tensor.Shape{1, 2, 4, 4}, nil)
	k := raw32(t, tensor.Shape{1, 3, 3, 3}, nil)
	assert.Panics(t, func() { b.Conv2D(in, k, 1, 1) })
	assert.Panics(t, func() { b.Conv2D(raw32(t, tensor.Shape{2, 4, 4}, nil), k, 1, 1) })
}

// TestConv2DBackward checks both conv gradients against the direct convolution
// using L = sum(conv(x, k) * r), whose gradient with respect to the output is r.
func TestConv2DBackward(t *testing.T) {
	for name, b := range backends() {
		t.Run(name, func(t *testing.T) {
			rng := rand.New(rand.NewSource(4))
			n, cin, h, w, cout, ks, stride, pad := 1, 2, 5, 4, 3, 3, 1, 1
			in := randRaw(t, rng, tensor.Shape{n, cin, h, w})
			k := randRaw(t, rng, tensor.Shape{cout, cin, ks, ks})
			_, hOut, wOut := naiveConv2D(in.AsFloat32(), k.AsFloat32(), n, cin, h, w, cout, ks, ks, stride, pad)
			r := randRaw(t, rng, tensor.Shape{n, cout, hOut, wOut})

			loss := func(x, kk []float32) float64 {
				out, _, _ := naiveConv2D(x, kk, n, cin, h, w, cout, ks, ks, stride, pad)
				var s float64
				for i, v := range out {
					s += float64(v) * float64(r.AsFloat32()[i])
				}
				return s
			}

			dIn := b.Conv2DInputBackward(in, k, r, stride, pad)
			dK := b.Conv2DKernelBackward(in, k, r, stride, pad)

			const eps = 1e-2
			check := func(param []float32, grad []float32, f func() float64) {
				for i := range param {
					orig := param[i]
					param[i] = orig + eps
					plus := f()
					param[i] = orig - eps
					minus := f()
					param[i] = orig
					numeric := (plus - minus) / (2 * eps)
					assert.InDelta(t, numeric, float64(grad[i]), 1e-2, "index %d", i)
				}
			}

			x, kk := in.AsFloat32(), k.AsFloat32()
			check(x, dIn.AsFloat32(), func() float64 { return loss(x, kk) })
			check(kk, dK.AsFloat32(), func() float64 { return loss(x, kk) })
		})
	}
}

func TestMaxPool2D(t *testing.T) {
	b := New()
	x := raw32(t, tensor.Shape{1, 1, 4, 5}, []float32{
		1, 2, 3, 4, 99,
		5, 6, 7, 8, 99,
		9, 1, 2, 3, 99,
		4, 5, 6, 0, 99,
	})

	y := b.MaxPool2D(x, 2, 2)
	assert.Equal(t, tensor.Shape{1, 1, 2, 2}, y.Shape())
	assertClose(t, []float32{6, 8, 9, 6}, y.AsFloat32(), 0)
}

func TestMaxPool2DBackward(t *testing.T) {
	b := New()
	x := raw32(t, tensor.Shape{1, 1, 2, 4}, []float32{1, 5, 2, 0, 3, 4, 7, 6})
	grad := raw32(t, tensor.Shape{1, 1, 1, 2}, []float32{10, 20})

	dx := b.MaxPool2DBackward(x, grad, []int{1, 6}, 2, 2)
	assertClose(t, []float32{0, 10, 0, 0, 0, 0, 20, 0}, dx.AsFloat32(), 0)

	assert.Panics(t, func() { b.MaxPool2DBackward(x, grad, []int{1}, 2, 2) })
}
