// Package monitor renders conversion output for humans: PNG previews of
// feature and label grids (gonum/plot), an HTML run report built from the
// manifest (go-echarts) and the live progress route served next to the
// manifest admin routes.
package monitor
