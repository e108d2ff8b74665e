// Package loader reads pretrained VGG weights from disk.
//
// Supported file formats:
//   - SafeTensors (F32, F64, F16, BF16), the Hugging Face standard
//   - PyTorch pickles (.pth, .pt, .bin), as written by torch.save
//
// Supported tensor layouts:
//   - canonical: block1_conv1.weight, kernels [out, in, kh, kw]
//   - keras: block1_conv1/kernel:0, kernels [kh, kw, in, out]
//   - torchvision: features.0.weight, kernels [out, in, kh, kw]
//
// Every tensor is converted to float32 on load. Keras kernels are transposed
// to [out, in, kh, kw] so callers see a single layout.
//
// Example:
//
//	w, err := loader.OpenWeights("vgg19.safetensors", []int{2, 2, 4, 4, 4})
//	if err != nil {
//	    return err
//	}
//	defer w.Close()
//
//	kernel, bias, err := w.Conv(1, 1)
package loader
