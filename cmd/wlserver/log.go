package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

var demoLogger = zerolog.New(os.Stderr).With().Timestamp().Logger()

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}

func logDemo() *zerolog.Logger { return &demoLogger }
