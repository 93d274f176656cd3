// Package l3labels owns Layer 3 (Labels) of the dataset data model.
//
// Responsibilities: burning annotated objects into the 8-channel cnn_seg
// label grid aligned with the L2 feature grid, including the overlap
// tie-break between footprints.
// Key types: LabelGrid, Encoder, LabelStats.
//
// Overlap rule: objects are painted largest footprint first, so where two
// footprints cover the same cell centre the smaller object owns it. Equal
// areas fall back to annotation order and the later annotation wins.
//
// Dependency rule: L3 may depend on L1 and L2, but never on storage or
// pipeline packages.
package l3labels
