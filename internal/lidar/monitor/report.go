package monitor

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/cnnseg-dataset/internal/lidar/l1points"
	sqlite "github.com/banshee-data/cnnseg-dataset/internal/lidar/storage/sqlite"
)

// RunReport is everything the HTML report shows about one run.
type RunReport struct {
	Run           *sqlite.Run
	FailureStages []sqlite.StageCount
	ClassCells    map[string]int64
	// FailuresByScene counts failed samples per scene name.
	FailuresByScene map[string]int
}

// BuildRunReport collects the report of runID, or of the latest run when
// runID is empty.
func BuildRunReport(runs *sqlite.RunStore, samples *sqlite.SampleStore, runID string) (*RunReport, error) {
	var (
		run *sqlite.Run
		err error
	)
	if runID == "" {
		run, err = runs.Latest()
	} else {
		run, err = runs.Get(runID)
	}
	if err != nil {
		return nil, err
	}

	rep := &RunReport{Run: run, FailuresByScene: map[string]int{}}
	if rep.FailureStages, err = samples.FailureStages(run.RunID); err != nil {
		return nil, err
	}
	if rep.ClassCells, err = samples.ClassCellTotals(run.RunID); err != nil {
		return nil, err
	}
	failures, err := samples.Failures(run.RunID)
	if err != nil {
		return nil, err
	}
	for _, f := range failures {
		rep.FailuresByScene[f.SceneName]++
	}
	return rep, nil
}

// RenderRunReport writes a standalone HTML page with the outcome counts,
// labelled cells per class, failure stages and failures per scene.
func RenderRunReport(w io.Writer, rep *RunReport) error {
	if rep == nil || rep.Run == nil {
		return errors.New("empty run report")
	}
	run := rep.Run
	subtitle := fmt.Sprintf("run=%s version=%s started=%s status=%s",
		run.RunID, run.Version, time.Unix(0, run.StartedAt).UTC().Format(time.RFC3339), run.Status)

	outcomes := charts.NewBar()
	outcomes.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Conversion report", Width: "900px", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: "Sample outcomes", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	c := run.Counts
	outcomes.SetXAxis([]string{"Succeeded", "Failed", "Skipped", "Cancelled"}).
		AddSeries("samples", []opts.BarData{
			{Value: c.Succeeded}, {Value: c.Failed}, {Value: c.Skipped}, {Value: c.Cancelled},
		}, charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}))

	classes := charts.NewBar()
	classes.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: "Labelled cells per class",
			Subtitle: fmt.Sprintf("out-of-bounds points=%d objects=%d", c.OutOfBoundsPoints, c.OutOfBoundsObjects)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	var classNames []string
	var classData []opts.BarData
	for cl := l1points.Class(1); cl < l1points.NumClasses; cl++ {
		classNames = append(classNames, cl.String())
		classData = append(classData, opts.BarData{Value: rep.ClassCells[cl.String()]})
	}
	classes.SetXAxis(classNames).
		AddSeries("cells", classData, charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}))

	stages := charts.NewPie()
	stages.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: "Failures by last stage reached"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	stageData := make([]opts.PieData, 0, len(rep.FailureStages))
	for _, s := range rep.FailureStages {
		stageData = append(stageData, opts.PieData{Name: s.Stage, Value: s.Count})
	}
	stages.AddSeries("stage", stageData, charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Formatter: "{b}: {c}"}))

	scenes := charts.NewBar()
	scenes.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: "Failures per scene"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	sceneNames := make([]string, 0, len(rep.FailuresByScene))
	for name := range rep.FailuresByScene {
		sceneNames = append(sceneNames, name)
	}
	sort.Strings(sceneNames)
	sceneData := make([]opts.BarData, 0, len(sceneNames))
	for _, name := range sceneNames {
		sceneData = append(sceneData, opts.BarData{Value: rep.FailuresByScene[name]})
	}
	scenes.SetXAxis(sceneNames).AddSeries("failures", sceneData)

	page := components.NewPage()
	page.PageTitle = "Conversion report"
	page.AddCharts(outcomes, classes, stages, scenes)
	return page.Render(w)
}
