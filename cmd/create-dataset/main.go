// Command create-dataset converts NuScenes LiDAR keyframes into Apollo
// cnn_seg training samples: <save_dir>/in_feature/NNNNN.npy (float16 H×W×C)
// and <save_dir>/out_feature/NNNNN.npy (float32 H×W×8), with per-sample status
// kept in <save_dir>/manifest.db.
//
// Exit status is 0 when the run completes, even if some samples failed; 1
// when the dataroot, configuration or manifest is unusable or the run is
// interrupted; 2 on a usage error.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/banshee-data/cnnseg-dataset/internal/db"
	"github.com/banshee-data/cnnseg-dataset/internal/fsutil"
	"github.com/banshee-data/cnnseg-dataset/internal/lidar/l2grid"
	"github.com/banshee-data/cnnseg-dataset/internal/lidar/l3labels"
	"github.com/banshee-data/cnnseg-dataset/internal/lidar/monitor"
	"github.com/banshee-data/cnnseg-dataset/internal/lidar/nuscenes"
	"github.com/banshee-data/cnnseg-dataset/internal/lidar/pipeline"
	"github.com/banshee-data/cnnseg-dataset/internal/lidar/storage/dataset"
	sqlite "github.com/banshee-data/cnnseg-dataset/internal/lidar/storage/sqlite"
	"github.com/banshee-data/cnnseg-dataset/internal/monitoring"
	"github.com/banshee-data/cnnseg-dataset/internal/security"
	"github.com/banshee-data/cnnseg-dataset/internal/version"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run is main without the process globals.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "create-dataset: %v\n", err)
		if errors.Is(err, errUsage) {
			return exitUsage
		}
		return exitError
	}
	if opts.showVersion {
		fmt.Fprintf(stdout, "create-dataset %s\n", version.String())
		return exitOK
	}
	configureLogging(opts.logLevel, stderr)

	if err := convert(ctx, opts, stdout, stderr); err != nil {
		fmt.Fprintf(stderr, "create-dataset: %v\n", err)
		return exitError
	}
	return exitOK
}

func configureLogging(level monitoring.Level, w io.Writer) {
	monitoring.WritersFor(level, w).Apply(
		nuscenes.SetLogWriters,
		l2grid.SetLogWriters,
		l3labels.SetLogWriters,
		pipeline.SetLogWriters,
	)
	if level >= monitoring.LevelOps {
		monitoring.SetLogger(log.New(w, "", log.LstdFlags).Printf)
	} else {
		monitoring.SetLogger(nil)
	}
}

func convert(ctx context.Context, opts *options, stdout, stderr io.Writer) error {
	cfg := opts.cfg
	if err := security.CheckSaveDir(opts.saveDir, opts.dataroot); err != nil {
		return err
	}
	source, err := nuscenes.Open(opts.dataroot, opts.version, nuscenes.Options{})
	if err != nil {
		return err
	}

	writer, err := dataset.NewWriter(fsutil.OSFileSystem{}, opts.saveDir, cfg.GetWriteRetries())
	if err != nil {
		return err
	}
	meta := dataset.NewMetadata(l2grid.SpecFromConfig(cfg),
		l2grid.ChannelsFor(cfg.GetUseConstantFeature(), cfg.GetUseIntensityFeature()))
	meta.ConfigHash = cfg.Hash()
	meta.Source = fmt.Sprintf("nuscenes %s via create-dataset %s", opts.version, version.String())
	if err := writer.WriteMetadata(meta); err != nil {
		return err
	}

	manifest, err := db.Open(filepath.Join(opts.saveDir, db.ManifestFile))
	if err != nil {
		return fmt.Errorf("open manifest: %w", err)
	}
	defer manifest.Close()
	runs := sqlite.NewRunStore(manifest.DB)
	samples := sqlite.NewSampleStore(manifest.DB)

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	runRec := &sqlite.Run{
		Dataroot:   opts.dataroot,
		Version:    opts.version,
		SaveDir:    opts.saveDir,
		ConfigHash: meta.ConfigHash,
		ConfigJSON: cfgJSON,
	}
	if err := runs.Insert(runRec); err != nil {
		return fmt.Errorf("record run: %w", err)
	}

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(stderr),
		progressbar.OptionSetDescription("converting"),
		progressbar.OptionSetItsString("samples"),
		progressbar.OptionShowIts(),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(200*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
	convOpts := pipeline.Options{
		RunID:  runRec.RunID,
		Resume: opts.resume,
		Progress: func(p pipeline.Progress) {
			if bar.GetMax() != p.Total {
				bar.ChangeMax(p.Total)
			}
			_ = bar.Set(p.Done)
		},
	}
	if opts.previewEvery > 0 {
		previews := &monitor.Previewer{
			Dir:     filepath.Join(opts.saveDir, "previews"),
			Every:   opts.previewEvery,
			Channel: opts.previewChannel,
		}
		convOpts.OnWritten = previews.Observe
	}
	conv, err := pipeline.NewConverter(cfg, source, writer, samples, convOpts)
	if err != nil {
		return err
	}

	if opts.listen != "" {
		stopServer, err := serveDebug(opts.listen, manifest, conv.Snapshot, func() (*monitor.RunReport, error) {
			return monitor.BuildRunReport(runs, samples, runRec.RunID)
		})
		if err != nil {
			return err
		}
		defer stopServer()
	}

	summary, runErr := conv.Run(ctx)
	_ = bar.Finish()

	status, msg := sqlite.RunCompleted, ""
	switch {
	case runErr != nil && ctx.Err() != nil:
		status, msg = sqlite.RunCancelled, runErr.Error()
	case runErr != nil:
		status, msg = sqlite.RunFailed, runErr.Error()
	}
	if err := runs.Finish(runRec.RunID, status, summary.Counts(), msg); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("record run result: %w", err))
	}

	fmt.Fprintf(stdout, "run %s %s: %d total, %d written, %d failed, %d skipped, %d cancelled in %s\n",
		runRec.RunID, status, summary.Total, summary.Succeeded, summary.Failed, summary.Skipped, summary.Cancelled,
		summary.Elapsed.Round(time.Millisecond))
	if summary.OutOfBoundsPoints > 0 || summary.OutOfBoundsObjects > 0 {
		fmt.Fprintf(stdout, "out of grid: %d points, %d objects\n", summary.OutOfBoundsPoints, summary.OutOfBoundsObjects)
	}
	if summary.Failed > 0 {
		fmt.Fprintf(stdout, "failed samples are listed in %s (sample_status, state FAILED)\n", manifest.Path())
	}
	return runErr
}
