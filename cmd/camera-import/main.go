// camera-import loads a camera reference JSON file into the SQLite database
// used by trafficwatchd.
package main

import (
	"encoding/json"
	"flag"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/trafficwatch/trafficwatch/pkg/camera"
)

func main() {
	var (
		input  = flag.String("input", "cameras.json", "Camera reference JSON file")
		output = flag.String("db", "cameras.db", "Target SQLite database")
		dryRun = flag.Bool("dry-run", false, "Validate the input without writing")
	)
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	data, err := os.ReadFile(*input)
	if err != nil {
		log.WithError(err).Fatal("failed to read input file")
	}

	var cameras []camera.Camera
	if err := json.Unmarshal(data, &cameras); err != nil {
		log.WithError(err).Fatal("failed to parse camera JSON")
	}

	// Registry construction validates IDs and coordinate ranges
	registry, err := camera.NewRegistry(cameras)
	if err != nil {
		log.WithError(err).Fatal("camera data failed validation")
	}

	log.WithFields(logrus.Fields{
		"input":   *input,
		"cameras": registry.Len(),
	}).Info("camera data validated")

	if *dryRun {
		log.Info("dry run, skipping database write")
		return
	}

	count, err := camera.ImportSQLite(*output, registry.All())
	if err != nil {
		log.WithError(err).Fatal("failed to import cameras")
	}

	log.WithFields(logrus.Fields{
		"db":       *output,
		"imported": count,
	}).Info("camera import complete")
}
