// SPDX-License-Identifier: GPL-2.0-or-later

package log

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestLogger() (context.Context, func(), *Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	logger := NewLogger()
	go logger.Start(ctx)

	return ctx, cancel, logger
}

func TestLogger(t *testing.T) {
	t.Run("msg", func(t *testing.T) {
		_, cancel, logger := newTestLogger()
		defer cancel()

		feed, cancel2 := logger.Subscribe()
		defer cancel2()

		go logger.Warn().Src("pipeline").Chunk(3).Msgf("%s", "test")
		actual := <-feed

		require.Equal(t, LevelWarning, actual.Level)
		require.Equal(t, "pipeline", actual.Src)
		require.Equal(t, 3, actual.Chunk)
		require.Equal(t, "test", actual.Msg)
	})
	t.Run("unsubBeforePrint", func(t *testing.T) {
		_, cancel, logger := newTestLogger()
		defer cancel()

		feed1, cancel1 := logger.Subscribe()
		feed2, cancel2 := logger.Subscribe()
		cancel2()

		logger.Info().Msg("test")
		actual1 := <-feed1
		actual2 := <-feed2
		cancel1()

		require.Equal(t, "test", actual1.Msg)
		require.Equal(t, Log{}, actual2)
	})
	t.Run("unsubAfterPrint", func(t *testing.T) {
		_, cancel, logger := newTestLogger()
		defer cancel()

		feed, cancel2 := logger.Subscribe()

		go func() { logger.Info().Msg("test") }()
		go func() { logger.Info().Msg("test") }()
		go func() { logger.Info().Msg("test") }()
		time.Sleep(10 * time.Microsecond)
		cancel2()

		actual := <-feed
		require.Equal(t, Log{}, actual)
	})
	t.Run("msgAfterStop", func(t *testing.T) {
		_, cancel, logger := newTestLogger()
		cancel()
		<-logger.done

		logger.Error().Msg("dropped")
	})
	t.Run("nil", func(t *testing.T) {
		var logger *Logger
		logger.Error().Src("app").Msg("dropped")
	})
	t.Run("mock", func(t *testing.T) {
		logger := NewMockLogger()
		logger.Debug().Msg("dropped")
		_, cancel := logger.Subscribe()
		cancel()
	})
}

func TestLogToWriter(t *testing.T) {
	ctx, cancel, logger := newTestLogger()
	defer cancel()

	var buf bytes.Buffer
	printerCtx, cancelPrinter := context.WithCancel(ctx)
	exited := logger.LogToWriter(printerCtx, &buf, LevelWarning)

	logger.Warn().Src("pipeline").Chunk(1).Msg("skipped")
	logger.Debug().Src("demux").Msg("hidden")
	logger.Error().Src("app").Msg("failed")

	// Wait for the last entry to be delivered.
	time.Sleep(10 * time.Millisecond)
	cancelPrinter()
	<-exited

	expected := "[WARNING] Pipeline: chunk 1: skipped\n" +
		"[ERROR] App: failed\n"
	require.Equal(t, expected, buf.String())
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		input    string
		expected Level
	}{
		{"error", LevelError},
		{"warning", LevelWarning},
		{"WARN", LevelWarning},
		{"info", LevelInfo},
		{"debug", LevelDebug},
	}
	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			level, err := ParseLevel(tc.input)
			require.NoError(t, err)
			require.Equal(t, tc.expected, level)
		})
	}

	_, err := ParseLevel("trace")
	require.ErrorIs(t, err, ErrUnknownLevel)
}
