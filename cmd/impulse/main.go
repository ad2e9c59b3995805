// Command impulse runs images through an impulse described by a YAML file.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-impulse/config"
	"github.com/nvr-ai/go-impulse/dsp"
	"github.com/nvr-ai/go-impulse/inference"
	"github.com/nvr-ai/go-impulse/logger"
	"github.com/nvr-ai/go-impulse/metrics"
	"github.com/nvr-ai/go-impulse/models/model/preprocess"
	"github.com/nvr-ai/go-impulse/util"
)

func main() {
	var (
		configPath = flag.String("config", "impulse.yaml", "Path to the impulse description")
		imagePath  = flag.String("image", "", "Image file to classify")
		imageDir   = flag.String("images", "", "Directory of images to classify in frame order")
		debug      = flag.Bool("debug", false, "Log features and results of every run")
	)
	flag.Parse()

	if err := run(*configPath, *imagePath, *imageDir, *debug); err != nil {
		fmt.Fprintf(os.Stderr, "impulse: %+v\n", err)
		os.Exit(1)
	}
}

func run(configPath, imagePath, imageDir string, debug bool) error {
	f, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if f.Logging.Development {
		err = logger.InitDevelopment()
	} else {
		err = logger.InitProduction()
	}
	if err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Log()

	rec := metrics.NewRecorder()
	if f.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", rec.Handler())
		srv := &http.Server{Addr: f.Metrics.Addr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server stopped", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	imp := &f.Impulse
	for id, cfg := range f.Models {
		eng, err := inference.NewONNXEngine(cfg)
		if err != nil {
			return err
		}
		defer eng.Close()
		if err := imp.Bind(id, eng); err != nil {
			return err
		}
		log.Info("model loaded", zap.Int("block", id), zap.String("path", cfg.ModelPath), zap.String("backend", string(cfg.Backend)))
	}

	engine, err := inference.NewEngine(imp,
		inference.WithLogger(log),
		inference.WithDebug(debug),
		inference.WithRecorder(rec),
	)
	if err != nil {
		return err
	}

	var files []util.ImageFile
	switch {
	case imageDir != "":
		files, err = util.LoadDirectoryImageFiles(imageDir)
	case imagePath != "":
		var file util.ImageFile
		file, err = util.LoadImageFile(imagePath)
		files = []util.ImageFile{file}
	default:
		return errors.New("one of -image or -images is required")
	}
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, file := range files {
		img, err := preprocess.Decode(&file.Image)
		if err != nil {
			return err
		}
		samples := dsp.Samples(preprocess.PackRGB(img, imp.InputWidth, imp.InputHeight))

		result, err := engine.Run(ctx, samples)
		if err != nil {
			return err
		}
		log.Info("image", zap.String("path", file.Path), zap.Stringer("kind", result.Kind))
		if !debug {
			inference.DisplayResults(log, result)
		}
	}
	return nil
}
