package tensor

// Backend defines the compute operations every tensor backend provides.
//
// Kernels treat invalid arguments (shape mismatches, unsupported dtypes) as
// programming errors and panic with an operation-prefixed message.
type Backend interface {
	// Element-wise operations with NumPy broadcasting.
	Add(a, b *RawTensor) *RawTensor
	Sub(a, b *RawTensor) *RawTensor
	Mul(a, b *RawTensor) *RawTensor
	MulScalar(x *RawTensor, scalar float64) *RawTensor

	// Matrix operations.
	BatchMatMul(a, b *RawTensor) *RawTensor

	// Shape operations.
	Reshape(t *RawTensor, newShape Shape) *RawTensor
	Transpose(t *RawTensor, axes ...int) *RawTensor

	// Reductions.
	Sum(x *RawTensor) *RawTensor
	SumDim(x *RawTensor, dim int, keepDim bool) *RawTensor

	// Activations.
	ReLU(x *RawTensor) *RawTensor

	// Convolution and pooling, NCHW layout.
	Conv2D(input, kernel *RawTensor, stride, padding int) *RawTensor
	Conv2DInputBackward(input, kernel, grad *RawTensor, stride, padding int) *RawTensor
	Conv2DKernelBackward(input, kernel, grad *RawTensor, stride, padding int) *RawTensor
	MaxPool2D(input *RawTensor, kernelSize, stride int) *RawTensor
	MaxPool2DBackward(input, grad *RawTensor, maxIndices []int, kernelSize, stride int) *RawTensor

	// Metadata.
	Name() string
	Device() Device
}
