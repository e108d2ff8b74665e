package style

import (
	"github.com/born-ml/stylize/internal/nn"
	"github.com/born-ml/stylize/internal/tensor"
)

// LossTerms are the differentiable parts of the objective.
type LossTerms[B tensor.Backend] struct {
	Total   *tensor.Tensor[float32, B]
	Style   *tensor.Tensor[float32, B]
	Content *tensor.Tensor[float32, B]
}

// Loss computes
//
//	style   = sum_l MSE(G_l, G*_l) * styleWeight / NumStyleLayers
//	content = sum_l MSE(A_l, A*_l) * contentWeight / NumContentLayers
//	total   = style + content
//
// Mismatched shapes between current features and targets panic.
func Loss[B tensor.Backend](current, targets *Features[B], styleWeight, contentWeight float64) LossTerms[B] {
	mse := nn.NewMSELoss[B]()

	styleSum := mse.Forward(current.Style[0], targets.Style[0])
	for i := 1; i < NumStyleLayers; i++ {
		styleSum = styleSum.Add(mse.Forward(current.Style[i], targets.Style[i]))
	}

	contentSum := mse.Forward(current.Content[0], targets.Content[0])
	for i := 1; i < NumContentLayers; i++ {
		contentSum = contentSum.Add(mse.Forward(current.Content[i], targets.Content[i]))
	}

	styleLoss := styleSum.MulScalar(styleWeight / NumStyleLayers)
	contentLoss := contentSum.MulScalar(contentWeight / NumContentLayers)

	return LossTerms[B]{
		Total:   styleLoss.Add(contentLoss),
		Style:   styleLoss,
		Content: contentLoss,
	}
}
