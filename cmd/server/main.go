package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/Brownie44l1/fer-recorder/internal/config"
	"github.com/Brownie44l1/fer-recorder/internal/handlers"
	"github.com/Brownie44l1/fer-recorder/internal/imaging"
	"github.com/Brownie44l1/fer-recorder/internal/logging"
	"github.com/Brownie44l1/fer-recorder/internal/model"
	"github.com/Brownie44l1/fer-recorder/internal/server"
	"github.com/Brownie44l1/fer-recorder/internal/store"
)

// version of the code
var version string

// helper function to return version string of the server
func info() string {
	goVersion := runtime.Version()
	tstamp := time.Now().Format("2006-01-02")
	return fmt.Sprintf("fer-server git=%s go=%s date=%s", version, goVersion, tstamp)
}

func main() {
	var configFile string
	flag.StringVar(&configFile, "config", "", "configuration file")
	var showVersion bool
	flag.BoolVar(&showVersion, "version", false, "print version information about the server")
	flag.Parse()
	if showVersion {
		fmt.Println(info())
		os.Exit(0)
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatalf("unable to parse config %s, error %v\n", configFile, err)
	}
	if err := logging.Setup(cfg.LogFile, cfg.Verbose); err != nil {
		log.Fatalf("unable to setup logging: %v", err)
	}
	if cfg.Verbose > 0 {
		log.Printf("configuration %s", cfg)
	}
	timeout, _ := cfg.PredictTimeout()

	log.Printf("Loading model from: %s", cfg.ModelPath)
	modelServer, err := model.NewServer(model.Options{
		ModelPath:    cfg.ModelPath,
		MetadataPath: cfg.MetadataPath,
		LibraryPath:  cfg.ONNXLibrary,
	})
	if err != nil {
		log.Fatalf("Failed to initialize model server: %v", err)
	}
	defer modelServer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	recorder, err := store.Open(ctx, store.Options{
		URI:        cfg.DBURI,
		DBName:     cfg.DBName,
		Collection: cfg.DBColl,
		Timeout:    10 * time.Second,
	})
	if err != nil {
		log.Fatalf("Failed to open prediction store: %v", err)
	}
	defer recorder.Close()

	decoder := imaging.NewDecoder(modelServer.ImageSize(), modelServer.Layout())
	decoder.MaxPixels = cfg.MaxPixels
	handler := handlers.NewHandler(modelServer, decoder, recorder, handlers.Options{
		Base:          cfg.Base,
		ServerInfo:    info(),
		MaxUploadSize: cfg.MaxUploadSize,
		Timeout:       timeout,
		Verbose:       cfg.Verbose,
	})

	opts := server.Options{
		Base:          cfg.Base,
		Address:       cfg.Address(),
		LimiterPeriod: cfg.LimiterPeriod,
		ServerCrt:     cfg.ServerCrt,
		ServerKey:     cfg.ServerKey,
		DomainNames:   cfg.DomainNames,
		Verbose:       cfg.Verbose,
	}
	router, err := server.Router(handler, opts)
	if err != nil {
		log.Fatalf("Failed to setup router: %v", err)
	}

	log.Printf("Model loaded: %s", cfg.ModelPath)
	log.Printf("Classes: %v", model.Labels)
	log.Println("Endpoints:")
	log.Println("  GET  /        - Landing page")
	log.Println("  POST /predict - Predict from image upload")
	log.Println("  GET  /records - Recorded predictions")
	log.Printf("Upload test: curl -X POST -F \"image=@face.jpg\" http://localhost:%d%s/predict", cfg.Port, cfg.Base)

	if err := server.Serve(ctx, router, opts); err != nil {
		log.Printf("Server failed: %v", err)
		return
	}
	log.Println("Server stopped")
}
