// SPDX-License-Identifier: GPL-2.0-or-later

package system

import (
	"gopro/pkg/log"

	"github.com/shirou/gopsutil/v3/cpu"
)

type countFunc func(logical bool) (int, error)

// System host information used to size worker pools.
type System struct {
	cpuCount countFunc
	log      *log.Logger
}

// New returns new System.
func New(log *log.Logger) *System {
	return &System{
		cpuCount: cpu.Counts,
		log:      log,
	}
}

// Workers returns the requested number of workers, or one
// per logical CPU if requested is zero or negative.
func (s *System) Workers(requested int) int {
	if requested > 0 {
		return requested
	}
	n, err := s.cpuCount(true)
	if err != nil {
		s.log.Warn().Src("system").Msgf("could not count cpus: %v", err)
		return 1
	}
	if n < 1 {
		return 1
	}
	s.log.Debug().Src("system").Msgf("using %d workers", n)
	return n
}
