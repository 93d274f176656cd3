package dataset

import (
	"gorgonia.org/tensor"

	"github.com/banshee-data/cnnseg-dataset/internal/lidar/storage/npy"
)

// LoadTensors returns sample id as float32 tensors shaped (H, W, C) and
// (H, W, 8), the form a Go training or evaluation loop consumes. Half
// precision features are widened on load.
func (r *Reader) LoadTensors(id int) (feature, label *tensor.Dense, err error) {
	fa, la, err := r.Load(id)
	if err != nil {
		return nil, nil, err
	}
	return toDense(fa), toDense(la), nil
}

func toDense(a npy.Array) *tensor.Dense {
	return tensor.New(tensor.WithShape(a.Shape...), tensor.WithBacking(a.Data))
}
