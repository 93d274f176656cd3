// Package l1points owns Layer 1 (Points) of the dataset data model.
//
// Responsibilities: the strongly typed sample (point cloud plus annotated
// objects in the LiDAR frame), class mapping from source categories,
// region-of-interest filtering and the augmentations applied before
// rasterization.
// Key types: Point, Object, Class, Sample, ROI, Augmentation.
//
// Dependency rule: L1 depends on nothing else under internal/lidar.
// Source adapters (nuscenes) build L1 samples; L2+ consume them.
package l1points
