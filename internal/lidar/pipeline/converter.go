package pipeline

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/cnnseg-dataset/internal/config"
	"github.com/banshee-data/cnnseg-dataset/internal/lidar/l1points"
	"github.com/banshee-data/cnnseg-dataset/internal/lidar/l2grid"
	"github.com/banshee-data/cnnseg-dataset/internal/lidar/l3labels"
	sqlite "github.com/banshee-data/cnnseg-dataset/internal/lidar/storage/sqlite"
)

// Options are the run-level settings of a Converter.
type Options struct {
	// RunID is stored with every status row.
	RunID string
	// Resume skips data ids the status store reports as written with the
	// same config hash.
	Resume bool
	// Progress, when set, is called after every finished item. Calls are
	// serialized.
	Progress func(Progress)
	// OnWritten, when set, is called for every written sample.
	OnWritten WrittenFunc
}

// Progress is a point-in-time view of a running conversion.
type Progress struct {
	Total     int `json:"total"`
	Done      int `json:"done"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Cancelled int `json:"cancelled"`
}

// Summary is the outcome of Run.
type Summary struct {
	Total              int
	Succeeded          int
	Failed             int
	Skipped            int
	Cancelled          int
	OutOfBoundsPoints  int64
	OutOfBoundsObjects int64
	Elapsed            time.Duration
}

// Counts converts s for the run store.
func (s Summary) Counts() sqlite.RunCounts {
	return sqlite.RunCounts{
		Total:              s.Total,
		Succeeded:          s.Succeeded,
		Failed:             s.Failed,
		Skipped:            s.Skipped,
		Cancelled:          s.Cancelled,
		OutOfBoundsPoints:  s.OutOfBoundsPoints,
		OutOfBoundsObjects: s.OutOfBoundsObjects,
	}
}

// Converter runs the conversion of every planned work item over a worker
// pool. A Converter is single-use.
type Converter struct {
	cfg        *config.ConversionConfig
	configHash string
	source     SampleSource
	sink       SampleSink
	status     StatusStore // optional
	opts       Options

	rasterizer *l2grid.Rasterizer
	encoder    *l3labels.Encoder
	roi        l1points.ROI
	noise      l1points.NoiseParams

	total, succeeded, failed, skipped, cancelled atomic.Int64
	oobPoints, oobObjects                        atomic.Int64

	progressMu sync.Mutex
	errMu      sync.Mutex
	recordErr  error
}

// NewConverter validates cfg and builds the stages. status may be nil, in
// which case nothing is recorded and Resume has no effect.
func NewConverter(cfg *config.ConversionConfig, source SampleSource, sink SampleSink, status StatusStore, opts Options) (*Converter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	rasterizer, err := l2grid.NewRasterizer(l2grid.RasterParamsFromConfig(cfg))
	if err != nil {
		return nil, err
	}
	encoder, err := l3labels.NewEncoder(l3labels.EncoderParamsFromConfig(cfg))
	if err != nil {
		return nil, err
	}
	return &Converter{
		cfg:        cfg,
		configHash: cfg.Hash(),
		source:     source,
		sink:       sink,
		status:     status,
		opts:       opts,
		rasterizer: rasterizer,
		encoder:    encoder,
		roi: l1points.ROI{
			Range:       cfg.GetRange(),
			MinZ:        cfg.GetMinHeight(),
			MaxZ:        cfg.GetMaxHeight(),
			CloseRadius: cfg.GetRemoveCloseRadius(),
		},
		noise: l1points.NoiseParams{
			Rate:        cfg.GetNoiseRate(),
			Samples:     cfg.GetNoiseSamples(),
			MinDistance: cfg.GetNoiseMinDistance(),
			Sigma:       cfg.GetNoiseSigma(),
		},
	}, nil
}

// Snapshot returns the current progress. It is safe to call while Run is
// in flight.
func (c *Converter) Snapshot() Progress {
	p := Progress{
		Total:     int(c.total.Load()),
		Succeeded: int(c.succeeded.Load()),
		Failed:    int(c.failed.Load()),
		Skipped:   int(c.skipped.Load()),
		Cancelled: int(c.cancelled.Load()),
	}
	p.Done = p.Succeeded + p.Failed + p.Skipped + p.Cancelled
	return p
}

// Run converts every planned item. Per-item failures are recorded and
// counted but never abort the run. Cancelling ctx stops dispatching new
// keyframes; items in flight finish. The returned error is ctx.Err() after
// a cancellation, otherwise the combined status store errors, if any.
func (c *Converter) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	endID := -1
	if n, ok := c.cfg.GetEndID(); ok {
		endID = n
	}
	items := Plan(c.source.Samples(), c.cfg.GetAugmentationNum(), endID)
	c.total.Store(int64(len(items)))

	var written map[int]bool
	if c.opts.Resume && c.status != nil {
		var err error
		if written, err = c.status.WrittenIDs(c.configHash); err != nil {
			return Summary{}, fmt.Errorf("read manifest for resume: %w", err)
		}
	}

	workers := c.cfg.GetWorkers()
	opsf("converting %d items with %d workers (config %s)", len(items), workers, c.configHash[:12])

	var g errgroup.Group
	g.SetLimit(workers)
	for _, group := range groupByKeyframe(items) {
		pending := group[:0:0]
		for _, it := range group {
			if written[it.DataID] {
				c.skipped.Add(1)
				c.reportProgress()
				continue
			}
			pending = append(pending, it)
		}
		if len(pending) == 0 {
			continue
		}
		if ctx.Err() != nil {
			c.cancelled.Add(int64(len(pending)))
			continue
		}
		g.Go(func() error {
			c.convertKeyframe(ctx, pending)
			return nil
		})
	}
	// Workers never return errors; failures are recorded per item.
	_ = g.Wait()

	p := c.Snapshot()
	summary := Summary{
		Total:              p.Total,
		Succeeded:          p.Succeeded,
		Failed:             p.Failed,
		Skipped:            p.Skipped,
		Cancelled:          p.Cancelled,
		OutOfBoundsPoints:  c.oobPoints.Load(),
		OutOfBoundsObjects: c.oobObjects.Load(),
		Elapsed:            time.Since(start),
	}
	opsf("done in %s: %d written, %d failed, %d skipped, %d cancelled",
		summary.Elapsed.Round(time.Millisecond), summary.Succeeded, summary.Failed, summary.Skipped, summary.Cancelled)
	if err := ctx.Err(); err != nil {
		return summary, err
	}
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return summary, c.recordErr
}

// groupByKeyframe splits data-id ordered items into runs sharing a keyframe.
func groupByKeyframe(items []WorkItem) [][]WorkItem {
	var groups [][]WorkItem
	for i := 0; i < len(items); {
		j := i + 1
		for j < len(items) && items[j].Ref.Index == items[i].Ref.Index {
			j++
		}
		groups = append(groups, items[i:j])
		i = j
	}
	return groups
}

// convertKeyframe loads one keyframe and converts each of its items.
func (c *Converter) convertKeyframe(ctx context.Context, items []WorkItem) {
	if ctx.Err() != nil {
		c.cancelled.Add(int64(len(items)))
		c.reportProgress()
		return
	}
	base, loadErr := c.source.Load(items[0].Ref.Token)
	for i := range items {
		if ctx.Err() != nil {
			c.cancelled.Add(int64(len(items) - i))
			c.reportProgress()
			return
		}
		it := items[i]
		res := c.convert(&it, base, loadErr)
		c.finish(&it, res)
	}
}

// itemResult carries the per-item statistics stored in the manifest.
type itemResult struct {
	points    int
	oobPoints int
	labels    l3labels.LabelStats
	feature   *l2grid.FeatureGrid
	labelGrid *l3labels.LabelGrid
}

// itemRNG returns the random source of one data id. Draws depend only on
// the seed and the id, never on scheduling.
func (c *Converter) itemRNG(dataID int) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(c.cfg.GetSeed()), uint64(dataID)))
}

func (c *Converter) convert(it *WorkItem, base *l1points.Sample, loadErr error) itemResult {
	var res itemResult
	if loadErr != nil {
		it.fail(loadErr)
		return res
	}
	if err := it.advance(StateLoaded); err != nil {
		it.fail(err)
		return res
	}

	rng := c.itemRNG(it.DataID)
	s := base.Clone()
	if c.cfg.GetAddNoise() {
		s.Points = l1points.AddNoisePoints(s.Points, rng, c.noise)
	}
	if it.AugIndex > 0 {
		s = l1points.NewAugmentation(rng, c.cfg.GetZTranslationRange()).Apply(s)
	}

	kept, dropped := l1points.FilterROI(append([]l1points.Point(nil), s.Points...), c.roi)
	feature, rs := c.rasterizer.Rasterize(kept)
	res.points = rs.Points
	res.oobPoints = dropped + rs.OutOfBounds
	if err := it.advance(StateRasterized); err != nil {
		it.fail(err)
		return res
	}

	label, ls := c.encoder.Encode(s.Objects, s.Points)
	res.labels = ls
	if err := it.advance(StateLabeled); err != nil {
		it.fail(err)
		return res
	}

	if err := c.sink.Write(it.DataID, feature, label); err != nil {
		it.fail(err)
		return res
	}
	if err := it.advance(StateWritten); err != nil {
		it.fail(err)
		return res
	}
	res.feature, res.labelGrid = feature, label
	return res
}

// finish counts, records and reports one item that reached a terminal state.
func (c *Converter) finish(it *WorkItem, res itemResult) {
	c.oobPoints.Add(int64(res.oobPoints))
	c.oobObjects.Add(int64(res.labels.OutOfBounds))
	if it.State == StateWritten {
		c.succeeded.Add(1)
		if c.opts.OnWritten != nil {
			c.opts.OnWritten(*it, res.feature, res.labelGrid)
		}
	} else {
		c.failed.Add(1)
		opsf("data id %d (sample %s, aug %d) failed after %s: %v", it.DataID, it.Ref.Token, it.AugIndex, it.Stage, it.Err)
	}
	diagf("data id %d: %s, %d points, %d out of bounds, %d objects", it.DataID, it.State, res.points, res.oobPoints, res.labels.Encoded)

	if c.status != nil {
		st := &sqlite.SampleStatus{
			DataID:             it.DataID,
			RunID:              c.opts.RunID,
			SampleToken:        it.Ref.Token,
			SceneName:          it.Ref.SceneName,
			AugIndex:           it.AugIndex,
			State:              it.State.String(),
			Stage:              it.Stage.String(),
			ConfigHash:         c.configHash,
			Points:             res.points,
			OutOfBoundsPoints:  res.oobPoints,
			ObjectsEncoded:     res.labels.Encoded,
			OutOfBoundsObjects: res.labels.OutOfBounds,
			ClassCells:         classCells(res.labels),
		}
		if it.Err != nil {
			st.Error = it.Err.Error()
		}
		if err := c.status.Upsert(st); err != nil {
			opsf("data id %d: record status: %v", it.DataID, err)
			c.errMu.Lock()
			c.recordErr = multierr.Append(c.recordErr, fmt.Errorf("record data id %d: %w", it.DataID, err))
			c.errMu.Unlock()
		}
	}
	c.reportProgress()
}

func classCells(ls l3labels.LabelStats) map[string]int {
	var out map[string]int
	for class, n := range ls.CellsPerClass {
		if class == int(l1points.ClassBackground) || n == 0 {
			continue
		}
		if out == nil {
			out = make(map[string]int)
		}
		out[l1points.Class(class).String()] = n
	}
	return out
}

func (c *Converter) reportProgress() {
	if c.opts.Progress == nil {
		return
	}
	c.progressMu.Lock()
	defer c.progressMu.Unlock()
	c.opts.Progress(c.Snapshot())
}
