// SPDX-License-Identifier: GPL-2.0-or-later

// Package gpmf2json prints the telemetry of a GoPro video as JSON.
package main

import (
	"log"
	"os"

	"gopro"
)

func main() {
	log.SetFlags(0)
	if err := gopro.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
