package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/norasector/rxprobe/pkg/harness"
	"github.com/norasector/rxprobe/pkg/harness/config"
	"github.com/norasector/rxprobe/pkg/sdr"
	_ "github.com/norasector/rxprobe/pkg/sdr/file"
	_ "github.com/norasector/rxprobe/pkg/sdr/hackrf"
	_ "github.com/norasector/rxprobe/pkg/sdr/icr8600"
	_ "github.com/norasector/rxprobe/pkg/sdr/mock"
	_ "github.com/norasector/rxprobe/pkg/sdr/rtlsdr"
	"github.com/norasector/rxprobe/pkg/viz"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.InfoLevel)
	configFile := flag.String("config", "", "YAML config file")
	deviceArgs := flag.String("args", "", "device args, e.g. driver=icr8600,serial=12001234")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	if *verbose {
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	}

	cfg := config.Default()
	if *configFile != "" {
		var err error
		cfg, err = config.Load(*configFile)
		if err != nil {
			log.Fatal().Err(err).Str("file", *configFile).Msg("failed to load config")
		}
	}
	if *deviceArgs != "" {
		cfg.Args = *deviceArgs
	}

	if err := run(cfg, sdr.Default()); err != nil && err != context.Canceled {
		log.Fatal().Err(err).Msg("exited program")
	}
}

// run executes one scenario. The influx writer is flushed and the recording
// file closed before it returns, including on failure.
func run(cfg config.Config, registry *sdr.Registry) error {
	if cfg.Hold && cfg.VizServer.Port == 0 {
		log.Warn().Msg("hold requested without a viz server port, exiting after the scenario")
		cfg.Hold = false
	}

	hopts := []harness.HarnessOption{harness.WithLogger(log.Logger)}

	if cfg.InfluxDB.Host != "" {
		client := influxdb2.NewClient(cfg.InfluxDB.Host, cfg.InfluxDB.Token)
		defer client.Close()
		writeAPI := client.WriteAPI(cfg.InfluxDB.Organization, cfg.InfluxDB.Bucket)
		defer writeAPI.Flush()
		go func() {
			for err := range writeAPI.Errors() {
				log.Warn().Err(err).Msg("influxdb write failed")
			}
		}()
		hopts = append(hopts, harness.WithInfluxDB(writeAPI))
	}

	timePlot := viz.NewTimeDomainPlotter("time", cfg.BufferLength)
	spectrum := viz.NewSpectrumPlotter("spectrum", cfg.BufferLength, cfg.SampleRate)
	if n := len(cfg.Frequencies); n > 0 {
		// the stream runs at the last frequency of the sweep
		spectrum.SetCenterFrequency(cfg.Frequencies[n-1])
	}
	hopts = append(hopts, harness.WithCaptureSink(timePlot), harness.WithCaptureSink(spectrum))

	if cfg.RecordLocation != "" {
		f, err := os.Create(cfg.RecordLocation)
		if err != nil {
			return fmt.Errorf("create recording file: %w", err)
		}
		defer f.Close()
		hopts = append(hopts, harness.WithRecorder(f))
	}

	h, err := harness.New(registry, harness.FromConfig(cfg), hopts...)
	if err != nil {
		return fmt.Errorf("create harness: %w", err)
	}

	eg, egCtx := errgroup.WithContext(context.Background())
	ctx, cancel := context.WithCancel(egCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	eg.Go(func() error {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
		return nil
	})

	if cfg.VizServer.Port != 0 {
		vizServer := viz.NewServer(cfg.VizServer.Port, cfg.VizServer.UpdateInterval)
		vizServer.Register("capture", timePlot)
		vizServer.Register("capture", spectrum)
		eg.Go(func() error {
			return vizServer.Run(ctx)
		})
	}

	eg.Go(func() error {
		if !cfg.Hold {
			defer cancel()
		}
		err := h.Run(ctx)
		if cerr := h.Close(); cerr != nil && !errors.Is(cerr, harness.ErrNoDevice) && err == nil {
			err = cerr
		}
		return err
	})

	if err := eg.Wait(); err != nil {
		return err
	}

	if cfg.VizServer.OutputDir != "" {
		written, err := viz.WritePNG(cfg.VizServer.OutputDir, timePlot, spectrum)
		if err != nil {
			return fmt.Errorf("write plots: %w", err)
		}
		log.Info().Strs("files", written).Msg("wrote plots")
	}
	return nil
}
