// Package nuscenes adapts a NuScenes dataset on disk into L1 samples.
//
// It reads the JSON metadata tables of one dataset version, enumerates the
// annotated keyframes scene by scene, and for each keyframe returns the
// LIDAR_TOP sweep together with the 3D box annotations transformed from the
// global frame into the sensor frame.
//
// Loosely typed records are validated here and converted to
// l1points.Object; malformed records fail the sample rather than leaking
// into the grids.
package nuscenes
