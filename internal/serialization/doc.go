// Package serialization writes weight sets in the SafeTensors format and
// validates SafeTensors headers read back by the loader.
//
//	Format Structure:
//	  [8 bytes: Header Size (uint64 LE)]
//	  [Header: JSON object, tensor name -> {dtype, shape, data_offsets}]
//	  [Tensor data: raw little-endian bytes, tensors in alphabetical order]
//
// An optional "__metadata__" entry in the header carries string key/value
// pairs. stylize uses it to record the preprocessing convention the weights
// were trained with.
//
//	err := serialization.WriteSafeTensors("vgg19.safetensors", weights,
//	    map[string]string{"preprocess": "caffe"})
package serialization
