// SPDX-License-Identifier: GPL-2.0-or-later

// Package gopro is the gpmf2json command line tool. It extracts the
// telemetry of GoPro video files and prints it as JSON or GPX.
package gopro

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"gopro/pkg/cache"
	"gopro/pkg/config"
	"gopro/pkg/demux"
	"gopro/pkg/export"
	"gopro/pkg/gpmf"
	"gopro/pkg/log"
	"gopro/pkg/pipeline"
	"gopro/pkg/process"
	"gopro/pkg/telemetry"

	"github.com/urfave/cli/v2"
)

const (
	// Flags.
	flagConfig           = "config"
	flagDecimalPlaces    = "decimal-places"
	flagRounding         = "rounding"
	flagFailFast         = "fail-fast"
	flagRequireDevice    = "require-device"
	flagRequireTelemetry = "require-telemetry"
	flagNoTimestamps     = "no-timestamps"
	flagStream           = "stream"
	flagRename           = "rename"
	flagWorkers          = "workers"
	flagGPX              = "gpx"
	flagSplitDir         = "split-dir"
	flagPretty           = "pretty"
	flagCache            = "cache"
	flagVerbose          = "verbose"
	flagLogLevel         = "log-level"
	flagTree             = "tree"
)

// Errors.
var (
	ErrUsage         = errors.New("expected one input file")
	ErrInvalidRename = errors.New("invalid rename")
)

// Run runs the command line tool.
func Run(args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return newApp(os.Stdout, os.Stderr).RunContext(ctx, args)
}

func newApp(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:            "gpmf2json",
		Usage:           "extract GoPro telemetry",
		ArgsUsage:       "FILE",
		HideHelpCommand: true,
		Writer:          stdout,
		ErrWriter:       stderr,
		Flags:           extractFlags(),
		Action:          extractAction,
		Commands: []*cli.Command{
			{
				Name:      "extract",
				Usage:     "print the telemetry of a file",
				ArgsUsage: "FILE",
				Flags:     extractFlags(),
				Action:    extractAction,
			},
			{
				Name:      "inspect",
				Usage:     "list the metadata tracks and chunks of a file",
				ArgsUsage: "FILE",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  flagTree,
						Usage: "dump the metadata tree of the first chunk",
					},
				},
				Action: inspectAction,
			},
		},
	}
}

func extractFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    flagConfig,
			Aliases: []string{"c"},
			Usage:   "load configuration from `FILE`",
		},
		&cli.IntFlag{
			Name:  flagDecimalPlaces,
			Usage: "round values to `N` decimal places, -1 disables rounding",
		},
		&cli.StringFlag{
			Name:  flagRounding,
			Usage: "rounding mode, halfAwayFromZero or halfEven",
		},
		&cli.BoolFlag{
			Name:  flagFailFast,
			Usage: "fail on the first corrupt chunk",
		},
		&cli.BoolFlag{
			Name:  flagRequireDevice,
			Usage: "fail on metadata without a device id",
		},
		&cli.BoolFlag{
			Name:  flagRequireTelemetry,
			Usage: "fail if the file has no telemetry",
		},
		&cli.BoolFlag{
			Name:  flagNoTimestamps,
			Usage: "do not add sample timestamps",
		},
		&cli.StringSliceFlag{
			Name:  flagStream,
			Usage: "only keep stream `KEY`, can be repeated",
		},
		&cli.StringSliceFlag{
			Name:  flagRename,
			Usage: "rename stream `OLD=NEW`, can be repeated",
		},
		&cli.IntFlag{
			Name:  flagWorkers,
			Usage: "number of chunk workers, 0 uses one per CPU",
		},
		&cli.BoolFlag{
			Name:  flagGPX,
			Usage: "print the GPS streams as GPX",
		},
		&cli.StringFlag{
			Name:  flagSplitDir,
			Usage: "write one JSON file per stream to `DIR`",
		},
		&cli.BoolFlag{
			Name:  flagPretty,
			Usage: "indent the JSON output",
		},
		&cli.StringFlag{
			Name:  flagCache,
			Usage: "cache results in the database at `FILE`",
		},
		&cli.BoolFlag{
			Name:    flagVerbose,
			Aliases: []string{"v"},
			Usage:   "print diagnostics to stderr",
		},
		&cli.StringFlag{
			Name:  flagLogLevel,
			Value: "debug",
			Usage: "highest level printed by --verbose",
		},
	}
}

func inputPath(c *cli.Context) (string, error) {
	if c.NArg() != 1 {
		return "", ErrUsage
	}
	return c.Args().First(), nil
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String(flagConfig); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}

	p := &cfg.Pipeline
	if c.IsSet(flagDecimalPlaces) {
		p.DecimalPlaces = c.Int(flagDecimalPlaces)
	}
	if c.IsSet(flagRounding) {
		mode, err := process.ParseRoundingMode(c.String(flagRounding))
		if err != nil {
			return nil, err
		}
		p.Rounding = mode
	}
	if c.IsSet(flagFailFast) {
		p.FailFast = c.Bool(flagFailFast)
	}
	if c.IsSet(flagRequireDevice) {
		p.RequireDevice = c.Bool(flagRequireDevice)
	}
	if c.IsSet(flagRequireTelemetry) {
		p.RequireTelemetry = c.Bool(flagRequireTelemetry)
	}
	if c.Bool(flagNoTimestamps) {
		p.Timestamps = false
	}
	if c.IsSet(flagStream) {
		p.Streams = c.StringSlice(flagStream)
	}
	if c.IsSet(flagWorkers) {
		p.Workers = c.Int(flagWorkers)
	}
	for _, r := range c.StringSlice(flagRename) {
		from, to, ok := strings.Cut(r, "=")
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidRename, r)
		}
		if p.Rename == nil {
			p.Rename = make(map[string]string)
		}
		p.Rename[from] = to
	}
	if c.IsSet(flagCache) {
		cfg.Cache = c.String(flagCache)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func extractAction(c *cli.Context) error {
	path, err := inputPath(c)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(c.Context)
	logger := log.NewLogger()
	go logger.Start(ctx)

	printerExited := closedChan()
	if c.Bool(flagVerbose) {
		level, err := log.ParseLevel(c.String(flagLogLevel))
		if err != nil {
			cancel()
			return err
		}
		printerExited = logger.LogToWriter(ctx, c.App.ErrWriter, level)
	}
	defer func() {
		cancel()
		<-printerExited
	}()

	cfg.Pipeline.Logger = logger
	res, err := extractFile(ctx, path, cfg, logger)
	if err != nil {
		return err
	}

	w := c.App.Writer
	switch {
	case c.String(flagSplitDir) != "":
		paths, err := export.WriteStreamFiles(c.String(flagSplitDir), res)
		if err != nil {
			return err
		}
		for _, p := range paths {
			logger.Info().Src("app").Msgf("wrote %v", p)
		}
		return nil
	case c.Bool(flagGPX):
		return export.WriteGPX(w, res, cfg.Pipeline.Rename)
	default:
		return export.WriteJSON(w, res, c.Bool(flagPretty))
	}
}

func closedChan() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// extractFile runs the pipeline on the file, results
// are read from and stored in the cache if it is enabled.
func extractFile(
	ctx context.Context,
	path string,
	cfg *config.Config,
	logger *log.Logger,
) (telemetry.Result, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var (
		store *cache.Cache
		key   []byte
	)
	if cfg.Cache != "" {
		if store, err = cache.Open(cfg.Cache, logger); err != nil {
			return nil, err
		}
		defer store.Close()

		fingerprint, err := cfg.Fingerprint()
		if err != nil {
			return nil, err
		}
		if key, err = cache.Key(file, fingerprint); err != nil {
			return nil, err
		}
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}

		res, ok, err := store.Get(key)
		if err != nil {
			logger.Error().Src("cache").Msgf("get: %v", err)
		} else if ok {
			return res, nil
		}
	}

	result, err := pipeline.Process(ctx, file, cfg.Pipeline)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", path, err)
	}

	if store != nil {
		if err := store.Put(key, result.Telemetry); err != nil {
			logger.Error().Src("cache").Msgf("put: %v", err)
		}
	}
	return result.Telemetry, nil
}

func inspectAction(c *cli.Context) error {
	path, err := inputPath(c)
	if err != nil {
		return err
	}
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	d, err := demux.New(file)
	if err != nil {
		return fmt.Errorf("%v: %w", path, err)
	}

	w := c.App.Writer
	for _, t := range d.Tracks() {
		fmt.Fprintf(w, "track %d: %s handler=%s name=%q timescale=%d samples=%d duration=%v\n",
			t.ID, t.SampleEntry, t.Handler, t.Name, t.Timescale, t.Samples, t.Duration)
	}

	for i := 0; ; i++ {
		chunk, err := d.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "chunk %d: track=%d offset=%d size=%d start=%v duration=%v\n",
			chunk.Index, chunk.TrackID, chunk.Offset, chunk.Size, chunk.Start, chunk.Duration)

		if i == 0 && c.Bool(flagTree) {
			root, err := gpmf.Parse(chunk.Payload)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", chunk.Index, err)
			}
			fmt.Fprint(w, root.String())
		}
	}
}
