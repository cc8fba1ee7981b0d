package main

import "os"

func main() {
	if err := Execute(); err != nil {
		logDemo().Error().Err(err).Msg("wlserver exiting")
		os.Exit(1)
	}
}
