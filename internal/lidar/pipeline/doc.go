// Package pipeline converts NuScenes keyframes into training samples.
//
// It is the composition root of the conversion: it imports the loader
// (nuscenes), the point model (l1points), the rasterizer (l2grid), the
// label encoder (l3labels) and the storage packages, and none of those
// import pipeline/. Every work item moves through the linear state machine
// PENDING → LOADED → RASTERIZED → LABELED → WRITTEN, or ends in FAILED
// with the last state it reached recorded as its stage.
package pipeline
