package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"

	tiledb "github.com/TileDB-Inc/TileDB-Go"
	"github.com/alitto/pond"
	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v2"

	acoustic "github.com/sixy6e/go-acoustic"
)

// sources accepted on the command line.
var sourceNames = map[string]acoustic.SourceType{
	"ss-starboard": acoustic.SourceSideScanStarboard,
	"ss-port":      acoustic.SourceSideScanPort,
	"echosounder":  acoustic.SourceEchosounder,
	"profiler":     acoustic.SourceProfiler,
	"forward-look": acoustic.SourceForwardLook,
}

// export_track reads a channel's amplitudes and writes the waterfall array
// plus its metadata JSON into outdir_uri.
func export_track(store_uri, config_uri, outdir_uri, project, track, source_name string, channel uint, convolve bool) error {
	source, ok := sourceNames[source_name]
	if !ok {
		return errors.New("unknown source: " + source_name)
	}

	log.Info("Processing track", "project", project, "track", track, "source", source_name, "channel", channel)

	store, err := acoustic.NewTrackStore(store_uri, config_uri)
	if err != nil {
		return err
	}
	defer store.Close()

	cache := acoustic.NewMemCache()

	rd, err := acoustic.NewReader(store, cache, project, track, source, channel, false)
	if err != nil {
		return err
	}
	defer rd.Close()

	rd.SetConvolve(convolve, acoustic.ConvScaleUnit)

	log.Info("Collating metadata")
	md, err := acoustic.ReaderMetadata(rd)
	if err != nil {
		return err
	}

	stem := fmt.Sprintf("%s-%s-%s", project, track, md.Channel_Name)

	out_uri := filepath.Join(outdir_uri, stem+"-metadata.json")
	if _, err = acoustic.WriteJson(out_uri, config_uri, md); err != nil {
		return err
	}

	log.Info("Reading amplitudes", "pings", md.Ping_Count)
	wf, err := acoustic.CollectWaterfall(rd)
	if err != nil {
		return err
	}

	log.Info("Waterfall QA", "summary", wf.Summary())

	var config *tiledb.Config
	if config_uri == "" {
		config, err = tiledb.NewConfig()
	} else {
		config, err = tiledb.LoadConfig(config_uri)
	}
	if err != nil {
		return err
	}
	defer config.Free()

	ctx, err := tiledb.NewContext(config)
	if err != nil {
		return err
	}
	defer ctx.Free()

	log.Info("Writing waterfall array")
	array_uri := filepath.Join(outdir_uri, stem+".tiledb")
	if err = wf.ToTileDB(array_uri, ctx); err != nil {
		return err
	}

	log.Info("Finished track", "project", project, "track", track)

	return nil
}

// export_doa reads the forward-look pair of a track and writes the DOA
// array.
func export_doa(store_uri, config_uri, outdir_uri, project, track string, sound_velocity float64) error {
	log.Info("Processing forward look", "project", project, "track", track)

	store, err := acoustic.NewTrackStore(store_uri, config_uri)
	if err != nil {
		return err
	}
	defer store.Close()

	fl, err := acoustic.NewForwardLook(store, acoustic.NewMemCache(), project, track)
	if err != nil {
		return err
	}
	defer fl.Close()

	fl.SetSoundVelocity(sound_velocity)

	log.Info("Geometry", "alpha", fl.Alpha(), "base", fl.AntennaBase(), "wavelength", fl.WaveLength())

	dd, skipped, err := acoustic.CollectDoa(fl)
	if err != nil {
		return err
	}
	if skipped > 0 {
		log.Warn("Unpaired pings skipped", "count", skipped)
	}

	var config *tiledb.Config
	if config_uri == "" {
		config, err = tiledb.NewConfig()
	} else {
		config, err = tiledb.LoadConfig(config_uri)
	}
	if err != nil {
		return err
	}
	defer config.Free()

	ctx, err := tiledb.NewContext(config)
	if err != nil {
		return err
	}
	defer ctx.Free()

	array_uri := filepath.Join(outdir_uri, fmt.Sprintf("%s-%s-doa.tiledb", project, track))
	if err = dd.ToTileDB(array_uri, ctx); err != nil {
		return err
	}

	log.Info("Finished forward look", "project", project, "track", track)

	return nil
}

// export_trawl submits every track found under the store root to a
// processing pool. Each worker owns its readers; only the store root and
// config are shared.
func export_trawl(store_uri, config_uri, outdir_uri, source_name string, channel uint, convolve bool) error {
	log.Info("Searching store", "uri", store_uri)

	store, err := acoustic.NewTrackStore(store_uri, config_uri)
	if err != nil {
		return err
	}

	tracks := store.FindTracks()
	store.Close()

	log.Info("Tracks to process", "count", len(tracks))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	n := runtime.NumCPU() * 2
	pool := pond.New(n, 0, pond.MinWorkers(n), pond.Context(ctx))
	defer pool.StopAndWait()

	for _, track_uri := range tracks {
		track := filepath.Base(track_uri)
		project := filepath.Base(filepath.Dir(track_uri))

		pool.Submit(func() {
			err := export_track(store_uri, config_uri, outdir_uri, project, track, source_name, channel, convolve)
			if err != nil {
				log.Error("Track failed", "project", project, "track", track, "err", err)
			}
		})
	}

	return nil
}

// quality_report evaluates the per-ping acoustic quality of a channel and
// writes the aggregate report as JSON.
func quality_report(store_uri, config_uri, outdir_uri, project, track, source_name string, channel uint) error {
	source, ok := sourceNames[source_name]
	if !ok {
		return errors.New("unknown source: " + source_name)
	}

	store, err := acoustic.NewTrackStore(store_uri, config_uri)
	if err != nil {
		return err
	}
	defer store.Close()

	cache := acoustic.NewMemCache()

	signal_rd, err := acoustic.NewReader(store, cache, project, track, source, channel, false)
	if err != nil {
		return err
	}
	defer signal_rd.Close()

	noise_rd, err := acoustic.NewReader(store, cache, project, track, source, channel, true)
	if err != nil {
		return err
	}
	defer noise_rd.Close()

	est := acoustic.NewEstimator(signal_rd, noise_rd, nil)

	first, last, ok := signal_rd.Range()
	if !ok {
		return acoustic.ErrEmptyChannel
	}

	type pingQuality struct {
		Ping_Id      uint32
		Mean_Quality float64
	}

	report := make([]pingQuality, 0, last-first+1)

	for index := first; index <= last; index++ {
		quality, err := est.AcousticQuality(index)
		if err != nil {
			log.Warn("Quality unavailable", "ping", index, "err", err)
			continue
		}

		var sum uint64
		for _, q := range quality {
			sum += uint64(q)
		}

		mean := 0.0
		if len(quality) > 0 {
			mean = float64(sum) / float64(len(quality))
		}

		report = append(report, pingQuality{Ping_Id: index, Mean_Quality: mean})
	}

	out_uri := filepath.Join(outdir_uri, fmt.Sprintf("%s-%s-quality.json", project, track))
	_, err = acoustic.WriteJson(out_uri, config_uri, report)

	return err
}

func main() {
	app := &cli.App{
		Commands: []*cli.Command{
			&cli.Command{
				Name: "export",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "store-uri",
						Usage: "URI or pathname of the track store root.",
					},
					&cli.StringFlag{
						Name:  "config-uri",
						Usage: "URI or pathname to a TileDB config file.",
					},
					&cli.StringFlag{
						Name:  "outdir-uri",
						Usage: "URI or pathname to an output directory.",
					},
					&cli.StringFlag{
						Name:  "project",
						Usage: "Project name.",
					},
					&cli.StringFlag{
						Name:  "track",
						Usage: "Track name.",
					},
					&cli.StringFlag{
						Name:  "source",
						Value: "ss-starboard",
						Usage: "Source type (ss-starboard, ss-port, echosounder, profiler, forward-look).",
					},
					&cli.UintFlag{
						Name:  "channel",
						Value: 1,
						Usage: "Channel number.",
					},
					&cli.BoolFlag{
						Name:  "convolve",
						Value: true,
						Usage: "Apply matched-filter convolution against the emitted signal.",
					},
				},
				Action: func(cCtx *cli.Context) error {
					return export_track(cCtx.String("store-uri"), cCtx.String("config-uri"), cCtx.String("outdir-uri"), cCtx.String("project"), cCtx.String("track"), cCtx.String("source"), cCtx.Uint("channel"), cCtx.Bool("convolve"))
				},
			},
			&cli.Command{
				Name: "export-doa",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "store-uri",
						Usage: "URI or pathname of the track store root.",
					},
					&cli.StringFlag{
						Name:  "config-uri",
						Usage: "URI or pathname to a TileDB config file.",
					},
					&cli.StringFlag{
						Name:  "outdir-uri",
						Usage: "URI or pathname to an output directory.",
					},
					&cli.StringFlag{
						Name:  "project",
						Usage: "Project name.",
					},
					&cli.StringFlag{
						Name:  "track",
						Usage: "Track name.",
					},
					&cli.Float64Flag{
						Name:  "sound-velocity",
						Value: acoustic.DefaultSoundVelocity,
						Usage: "Sound velocity in m/s.",
					},
				},
				Action: func(cCtx *cli.Context) error {
					return export_doa(cCtx.String("store-uri"), cCtx.String("config-uri"), cCtx.String("outdir-uri"), cCtx.String("project"), cCtx.String("track"), cCtx.Float64("sound-velocity"))
				},
			},
			&cli.Command{
				Name: "export-trawl",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "store-uri",
						Usage: "URI or pathname of the track store root.",
					},
					&cli.StringFlag{
						Name:  "config-uri",
						Usage: "URI or pathname to a TileDB config file.",
					},
					&cli.StringFlag{
						Name:  "outdir-uri",
						Usage: "URI or pathname to an output directory.",
					},
					&cli.StringFlag{
						Name:  "source",
						Value: "ss-starboard",
						Usage: "Source type to export from every track.",
					},
					&cli.UintFlag{
						Name:  "channel",
						Value: 1,
						Usage: "Channel number.",
					},
					&cli.BoolFlag{
						Name:  "convolve",
						Value: true,
						Usage: "Apply matched-filter convolution against the emitted signal.",
					},
				},
				Action: func(cCtx *cli.Context) error {
					return export_trawl(cCtx.String("store-uri"), cCtx.String("config-uri"), cCtx.String("outdir-uri"), cCtx.String("source"), cCtx.Uint("channel"), cCtx.Bool("convolve"))
				},
			},
			&cli.Command{
				Name: "quality",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "store-uri",
						Usage: "URI or pathname of the track store root.",
					},
					&cli.StringFlag{
						Name:  "config-uri",
						Usage: "URI or pathname to a TileDB config file.",
					},
					&cli.StringFlag{
						Name:  "outdir-uri",
						Usage: "URI or pathname to an output directory.",
					},
					&cli.StringFlag{
						Name:  "project",
						Usage: "Project name.",
					},
					&cli.StringFlag{
						Name:  "track",
						Usage: "Track name.",
					},
					&cli.StringFlag{
						Name:  "source",
						Value: "ss-starboard",
						Usage: "Source type.",
					},
					&cli.UintFlag{
						Name:  "channel",
						Value: 1,
						Usage: "Channel number.",
					},
				},
				Action: func(cCtx *cli.Context) error {
					return quality_report(cCtx.String("store-uri"), cCtx.String("config-uri"), cCtx.String("outdir-uri"), cCtx.String("project"), cCtx.String("track"), cCtx.String("source"), cCtx.Uint("channel"))
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
