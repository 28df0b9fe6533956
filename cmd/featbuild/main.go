package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/malbeclabs/powerfeat/internal/cli"
	"github.com/malbeclabs/powerfeat/pkg/metrics"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	_ = godotenv.Load()

	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
	os.Exit(int(cli.Run(fmt.Sprintf("%s (commit %s, built %s)", version, commit, date))))
}
