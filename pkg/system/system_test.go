// SPDX-License-Identifier: GPL-2.0-or-later

package system

import (
	"errors"
	"testing"

	"gopro/pkg/log"

	"github.com/stretchr/testify/require"
)

func TestWorkers(t *testing.T) {
	testCases := []struct {
		name      string
		requested int
		count     int
		err       error
		expected  int
	}{
		{"requested", 3, 8, nil, 3},
		{"perCPU", 0, 8, nil, 8},
		{"negative", -1, 4, nil, 4},
		{"countErr", 0, 0, errors.New("mock"), 1},
		{"zeroCount", 0, 0, nil, 1},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := New(log.NewMockLogger())
			s.cpuCount = func(bool) (int, error) {
				return tc.count, tc.err
			}
			require.Equal(t, tc.expected, s.Workers(tc.requested))
		})
	}
}
