package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"
)

const shutdownTimeout = 10 * time.Second

var cmdDaemon = &cli.Command{
	Name:  "daemon",
	Usage: "Process the certificate configurations on a schedule and serve metrics",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "run-now",
			Usage: "Also process the configurations once at startup",
		},
	},
	Action: runDaemon,
}

func runDaemon(c *cli.Context) error {
	services, err := setup(c)
	if err != nil {
		return err
	}
	defer services.Close()
	services.Start()

	ctx := withSignals(c.Context, services.Log)
	log := services.Log.WithField("component", "daemon")
	runner := services.Runner()

	renewAll := func() {
		// Documents are read again for every run so changes need no restart.
		jobs, err := services.LoadJobs(ctx, nil)
		if err != nil {
			log.WithError(err).Error("Failed to load certificate configurations")
			services.Metrics.RunFinished(time.Now(), true)
			return
		}
		if _, err := runner.Run(ctx, jobs); err != nil {
			log.WithError(err).Warn("Run finished with failures")
		}
	}

	cronLog := cron.PrintfLogger(log)
	scheduler := cron.New(
		cron.WithSeconds(),
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)
	if _, err := scheduler.AddFunc(services.Settings.Schedule, renewAll); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(services.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	server := &http.Server{
		Addr:              services.Settings.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Infof("Serving metrics on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	if c.Bool("run-now") {
		go renewAll()
	}
	scheduler.Start()
	log.Infof("Scheduled renewals with %q", services.Settings.Schedule)

	select {
	case <-ctx.Done():
	case err = <-serveErr:
	}

	// Wait for a running renewal to finish its cleanup.
	<-scheduler.Stop().Done()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		log.WithError(shutdownErr).Warn("Metrics server shutdown failed")
	}
	return err
}
