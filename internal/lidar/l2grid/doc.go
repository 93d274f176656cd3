// Package l2grid owns Layer 2 (Grid) of the dataset data model.
//
// Responsibilities: bird's-eye-view grid geometry (point → cell and
// cell → centre mapping) and rasterization of a point cloud into the
// multi-channel feature grid consumed by the cnn_seg network.
// Key types: Spec, Channel, FeatureGrid, Rasterizer.
//
// Dependency rule: L2 may depend on L1, but never on L3+.
// No file or database I/O is allowed in this package.
package l2grid
