// SPDX-License-Identifier: GPL-2.0-or-later

package log

// API inspired by zerolog https://github.com/rs/zerolog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Level defines log level.
type Level uint8

// Logging constants.
const (
	LevelError   Level = 16
	LevelWarning Level = 24
	LevelInfo    Level = 32
	LevelDebug   Level = 48
)

// ParseLevel parses "error", "warning", "info" or "debug".
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "error":
		return LevelError, nil
	case "warning", "warn":
		return LevelWarning, nil
	case "info":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownLevel, s)
}

// ErrUnknownLevel unknown log level.
var ErrUnknownLevel = errors.New("unknown log level")

// UnixMicro .
type UnixMicro uint64

// Event defines log event.
type Event struct {
	level Level
	time  UnixMicro
	src   string
	chunk int

	logger *Logger
}

// Log defines log entry.
type Log struct {
	Level Level
	Time  UnixMicro // Timestamp.
	Msg   string    // Message
	Src   string    // Source.

	// Chunk index the entry refers to, -1 if none.
	Chunk int
}

// Src sets event source.
func (e *Event) Src(source string) *Event {
	e.src = source
	return e
}

// Chunk sets the chunk index the event refers to.
func (e *Event) Chunk(index int) *Event {
	e.chunk = index
	return e
}

// Time sets event time.
func (e *Event) Time(t time.Time) *Event {
	e.time = UnixMicro(t.UnixMicro())
	return e
}

// Msg sends the *Event with msg added as the message field.
func (e *Event) Msg(msg string) {
	l := e.logger
	if l == nil || l.discard {
		return
	}

	log := Log{
		Time:  e.time,
		Level: e.level,
		Msg:   msg,
		Src:   e.src,
		Chunk: e.chunk,
	}

	select {
	case l.feed <- log:
	case <-l.done:
	}
}

// Msgf sends the event with formatted msg added as the message field.
func (e *Event) Msgf(format string, v ...interface{}) {
	e.Msg(fmt.Sprintf(format, v...))
}

// Feed defines feed of logs.
type Feed <-chan Log
type logFeed chan Log

// Logger logs.
//
// A nil *Logger is valid and drops every event.
type Logger struct {
	feed  logFeed      // feed of logs.
	sub   chan logFeed // subscribe requests.
	unsub chan logFeed // unsubscribe requests.

	// Closed when Start returns.
	done chan struct{}

	discard bool
}

// NewLogger returns Logger, it must be started with Start.
func NewLogger() *Logger {
	return &Logger{
		feed:  make(logFeed),
		sub:   make(chan logFeed),
		unsub: make(chan logFeed),
		done:  make(chan struct{}),
	}
}

// NewMockLogger used for testing, drops every event.
func NewMockLogger() *Logger {
	l := NewLogger()
	l.discard = true
	close(l.done)
	return l
}

// Start logger, blocks until context is canceled.
func (l *Logger) Start(ctx context.Context) {
	defer close(l.done)

	subs := map[logFeed]struct{}{}
	for {
		select {
		case <-ctx.Done():
			return

		case ch := <-l.sub:
			subs[ch] = struct{}{}

		case ch := <-l.unsub:
			close(ch)
			delete(subs, ch)

		case msg := <-l.feed:
			for ch := range subs {
				select {
				case ch <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// CancelFunc cancels log feed subsciption.
type CancelFunc func()

// Subscribe returns a new chan with log feed and a CancelFunc.
func (l *Logger) Subscribe() (<-chan Log, CancelFunc) {
	feed := make(logFeed)
	select {
	case l.sub <- feed:
	case <-l.done:
	}

	cancel := func() {
		l.unSubscribe(feed)
	}
	return feed, cancel
}

func (l *Logger) unSubscribe(feed logFeed) {
	// Read feed until unsub request is accepted.
	for {
		select {
		case l.unsub <- feed:
			return
		case <-feed:
		case <-l.done:
			return
		}
	}
}

// LogToWriter prints every entry at or above maxLevel to w until
// the context is canceled. The subscription is active when
// LogToWriter returns, the returned channel is closed once
// the printer has exited.
func (l *Logger) LogToWriter(ctx context.Context, w io.Writer, maxLevel Level) <-chan struct{} {
	feed, cancel := l.Subscribe()
	exited := make(chan struct{})

	go func() {
		defer close(exited)
		defer cancel()
		for {
			select {
			case log := <-feed:
				if log.Level <= maxLevel {
					printLog(w, log)
				}
			case <-ctx.Done():
				// Flush entries that are already in flight.
				for {
					select {
					case log := <-feed:
						if log.Level <= maxLevel {
							printLog(w, log)
						}
					default:
						return
					}
				}
			}
		}
	}()
	return exited
}

func printLog(w io.Writer, log Log) {
	var output string

	switch log.Level {
	case LevelError:
		output += "[ERROR] "
	case LevelWarning:
		output += "[WARNING] "
	case LevelInfo:
		output += "[INFO] "
	case LevelDebug:
		output += "[DEBUG] "
	}

	if log.Src != "" {
		output += strings.ToUpper(log.Src[:1]) + log.Src[1:] + ": "
	}
	if log.Chunk >= 0 {
		output += "chunk " + strconv.Itoa(log.Chunk) + ": "
	}

	output += log.Msg
	fmt.Fprintln(w, output)
}

func (l *Logger) newEvent(level Level) *Event {
	return &Event{
		level:  level,
		time:   UnixMicro(time.Now().UnixMicro()),
		chunk:  -1,
		logger: l,
	}
}

// Error starts a new message with error level.
// You must call Msg on the returned event in order to send the event.
func (l *Logger) Error() *Event {
	return l.newEvent(LevelError)
}

// Warn starts a new message with warn level.
// You must call Msg on the returned event in order to send the event.
func (l *Logger) Warn() *Event {
	return l.newEvent(LevelWarning)
}

// Info starts a new message with info level.
// You must call Msg on the returned event in order to send the event.
func (l *Logger) Info() *Event {
	return l.newEvent(LevelInfo)
}

// Debug starts a new message with debug level.
// You must call Msg on the returned event in order to send the event.
func (l *Logger) Debug() *Event {
	return l.newEvent(LevelDebug)
}
