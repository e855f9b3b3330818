package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samthesuperhero/clourfid/internal/clog"
	"github.com/samthesuperhero/clourfid/internal/config"
	"github.com/samthesuperhero/clourfid/internal/engine"
	"github.com/samthesuperhero/clourfid/internal/fme"
	"github.com/samthesuperhero/clourfid/internal/ntpcheck"
	"github.com/samthesuperhero/clourfid/internal/template"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s <reader-id> <config-path> <timezone +HHMM|-HHMM>\n", os.Args[0])
}

func main() {
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() != 3 {
		usage()
		os.Exit(2)
	}
	readerID, confPath, tzStr := flag.Arg(0), flag.Arg(1), flag.Arg(2)

	cfg, err := config.Load(readerID, confPath, tzStr)
	if err != nil {
		log.Fatalf("cloucon: %v", err)
	}
	own := cfg.Own()

	logger, closeLog, err := clog.New(cfg.LogDir, "cloucon-"+readerID, cfg.LogTimeZone, tzStr, true)
	if err != nil {
		log.Fatalf("cloucon: setting up logging: %v", err)
	}
	defer closeLog()

	ntpChecker := ntpcheck.New(cfg.NTPServiceURL)
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 10*time.Second)
	maxOffset := time.Duration(cfg.MaxServerTimeOffset * float64(time.Second))
	if err := ntpChecker.CheckStartup(startupCtx, maxOffset); err != nil {
		cancelStartup()
		logger.WithFields(logrus.Fields{"component": "main", "error": err}).Fatal("NTP startup check failed")
	}
	cancelStartup()

	registry := template.NewRegistry(cfg.CmdsDir)
	if err := registry.Load(); err != nil {
		logger.WithFields(logrus.Fields{"component": "main", "error": err}).Fatal("loading command templates failed")
	}
	logger.WithFields(logrus.Fields{"component": "main", "count": registry.Len()}).Info("loaded command templates")

	clu, err := fme.New(readerID, cfg.ClouRun, []string{"CLU"})
	if err != nil {
		logger.WithFields(logrus.Fields{"component": "main", "error": err}).Fatal("constructing CLU exchange failed")
	}
	sts, err := fme.New(readerID, cfg.ClouRun, []string{"STS"})
	if err != nil {
		logger.WithFields(logrus.Fields{"component": "main", "error": err}).Fatal("constructing STS exchange failed")
	}

	eng := engine.New(cfg, logger, registry, clu, sts, ntpChecker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	// ntpSamples carries raw offsets from the periodic-check goroutine
	// to the engine's single-threaded main loop, which is the only
	// thing that records them into the checker's ring (§5).
	ntpSamples := make(chan time.Duration)

	g.Go(func() error {
		err := eng.Run(gctx, ntpSamples)
		cancel() // unblock the signal/NTP-ticker goroutines once the engine stops
		return err
	})

	g.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		select {
		case sig := <-sigCh:
			logger.WithFields(logrus.Fields{"component": "main", "signal": sig}).Info("shutdown signal received")
			eng.RequestShutdown()
		case <-gctx.Done():
		}
		return nil
	})

	g.Go(func() error {
		interval := time.Duration(own.NTPCheckInterval * float64(time.Second))
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				offset, err := ntpChecker.Sample(gctx)
				if err != nil {
					logger.WithFields(logrus.Fields{"component": "main", "error": err}).Warn("periodic NTP check failed")
					continue
				}
				select {
				case ntpSamples <- offset:
				case <-gctx.Done():
					return nil
				}
			}
		}
	})

	if err := g.Wait(); err != nil {
		logger.WithFields(logrus.Fields{"component": "main", "error": err}).Warn("cloucon exited with error")
		os.Exit(1)
	}
	logger.WithFields(logrus.Fields{"component": "main", "reader_id": readerID}).Info("cloucon stopped")
}
