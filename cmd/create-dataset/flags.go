package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"

	"github.com/banshee-data/cnnseg-dataset/internal/config"
	"github.com/banshee-data/cnnseg-dataset/internal/lidar/l2grid"
	"github.com/banshee-data/cnnseg-dataset/internal/monitoring"
)

// errUsage marks command-line mistakes, which exit with status 2.
var errUsage = errors.New("usage error")

// options are the parsed command line. Conversion settings live in cfg;
// flags given explicitly override the --config file.
type options struct {
	dataroot       string
	saveDir        string
	version        string
	configPath     string
	resume         bool
	listen         string
	previewEvery   int
	previewChannel l2grid.Channel
	logLevel       monitoring.Level
	showVersion    bool

	cfg *config.ConversionConfig
}

// overrides mirrors the conversion flags. Only the ones set on the command
// line are copied into the config.
type overrides struct {
	width, height, endID, augNum, workers int
	rng                                   float64
	useConstant, useIntensity, addNoise   switchValue
	seed                                  int64
}

// switchValue is an on/off flag that takes a value, so both the numeric
// form (--add_noise 1) and --add_noise=true parse.
type switchValue bool

func (v *switchValue) String() string {
	if v == nil {
		return "0"
	}
	if *v {
		return "1"
	}
	return "0"
}

func (v *switchValue) Set(s string) error {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return fmt.Errorf("want 0 or 1, got %q", s)
	}
	*v = switchValue(b)
	return nil
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("create-dataset", flag.ContinueOnError)
	fs.SetOutput(stderr)

	o := &options{}
	var ov overrides
	var previewChannel, logLevel string
	fs.StringVar(&o.dataroot, "dataroot", "", "NuScenes dataset root (required)")
	fs.StringVar(&o.saveDir, "save_dir", "", "output directory for in_feature/, out_feature/ and the manifest (required)")
	fs.StringVar(&o.version, "nusc_version", "v1.0-mini", "NuScenes metadata version, e.g. v1.0-mini or v1.0-trainval")
	fs.StringVar(&o.configPath, "config", "", "JSON conversion config; flags below override it")
	fs.IntVar(&ov.width, "width", 672, "feature map width (columns)")
	fs.IntVar(&ov.height, "height", 672, "feature map height (rows)")
	fs.Float64Var(&ov.rng, "range", 70, "metres from the sensor to the grid edge")
	ov.useIntensity = true
	fs.Var(&ov.useConstant, "use_constant_feature", "1 adds the direction and distance channels")
	fs.Var(&ov.useIntensity, "use_intensity_feature", "1 adds the intensity channels")
	fs.IntVar(&ov.endID, "end_id", -1, "stop after this many output samples; -1 converts everything")
	fs.IntVar(&ov.augNum, "augmentation_num", 0, "augmented copies per keyframe")
	fs.Var(&ov.addNoise, "add_noise", "1 injects synthetic noise returns")
	fs.IntVar(&ov.workers, "workers", 0, "concurrent keyframes; 0 uses every CPU")
	fs.Int64Var(&ov.seed, "seed", 0, "base seed of the per-sample random streams")
	fs.BoolVar(&o.resume, "resume", false, "skip samples the manifest already records as written with this config")
	fs.StringVar(&o.listen, "listen", "", "serve /debug routes (progress, report, tailsql) on this address")
	fs.IntVar(&o.previewEvery, "preview_every", 0, "write PNG previews of every n-th sample to <save_dir>/previews")
	fs.StringVar(&previewChannel, "preview_channel", l2grid.ChannelMaxHeight.String(), "feature channel drawn in previews")
	fs.StringVar(&logLevel, "log_level", monitoring.LevelOps.String(), "quiet, ops, diag or trace")
	fs.BoolVar(&o.showVersion, "version", false, "print the version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("%w: unexpected arguments %v", errUsage, fs.Args())
	}
	if o.showVersion {
		return o, nil
	}
	if o.dataroot == "" || o.saveDir == "" {
		return nil, fmt.Errorf("%w: --dataroot and --save_dir are required", errUsage)
	}
	if o.previewEvery < 0 {
		return nil, fmt.Errorf("%w: --preview_every must be >= 0", errUsage)
	}
	var err error
	if o.previewChannel, err = l2grid.ParseChannel(previewChannel); err != nil {
		return nil, fmt.Errorf("%w: %v", errUsage, err)
	}
	if o.logLevel, err = monitoring.ParseLevel(logLevel); err != nil {
		return nil, fmt.Errorf("%w: %v", errUsage, err)
	}

	o.cfg = config.EmptyConversionConfig()
	if o.configPath != "" {
		if o.cfg, err = config.LoadConversionConfig(o.configPath); err != nil {
			return nil, err
		}
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "width":
			o.cfg.Width = &ov.width
		case "height":
			o.cfg.Height = &ov.height
		case "range":
			o.cfg.Range = &ov.rng
		case "use_constant_feature":
			o.cfg.UseConstantFeature = (*bool)(&ov.useConstant)
		case "use_intensity_feature":
			o.cfg.UseIntensityFeature = (*bool)(&ov.useIntensity)
		case "end_id":
			if ov.endID >= 0 {
				o.cfg.EndID = &ov.endID
			} else {
				o.cfg.EndID = nil
			}
		case "augmentation_num":
			o.cfg.AugmentationNum = &ov.augNum
		case "add_noise":
			o.cfg.AddNoise = (*bool)(&ov.addNoise)
		case "workers":
			o.cfg.Workers = &ov.workers
		case "seed":
			o.cfg.Seed = &ov.seed
		}
	})
	if err := o.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return o, nil
}
