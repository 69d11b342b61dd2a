// SPDX-License-Identifier: GPL-2.0-or-later

package telemetry

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"gopro/pkg/gpmf"
)

// ErrUnknownDevice data without a device id was found
// and Options.RequireDevice is set.
var ErrUnknownDevice = errors.New("unknown device")

// Options interpreter options.
type Options struct {
	// Fail instead of assigning synthetic device ids.
	RequireDevice bool
}

// Stream keys with extra handling.
const (
	KeyGPS5 = "GPS5"
	KeyGPS9 = "GPS9"
)

// gps9Epoch day zero of GPS9 samples.
var gps9Epoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// scope is the state that sticky nodes modify. It is passed by
// value so changes never outlive the nested node they were made in.
type scope struct {
	device *Device

	name  string
	units []string
	siun  bool
	scale []float64

	gpsFix       *int
	gpsPrecision *float64
	baseDate     *time.Time
}

type interpreter struct {
	opts    Options
	result  Result
	unknown int
}

// Interpret walks the tree and returns the streams of every device.
// Samples of the same key in one device are appended in document order.
func Interpret(root *gpmf.Node, opts Options) (Result, error) {
	in := &interpreter{
		opts:   opts,
		result: Result{},
	}
	if err := in.walk(root, scope{}); err != nil {
		return nil, err
	}
	return in.result, nil
}

func (in *interpreter) walk(n *gpmf.Node, sc scope) error {
	for _, child := range n.Children {
		switch child.Kind {
		case gpmf.KindOpaque:
			continue

		case gpmf.KindNested:
			next := sc
			if child.Key == "DEVC" {
				dev, err := in.device(child)
				if err != nil {
					return err
				}
				next = scope{device: dev}
			}
			if err := in.walk(child, next); err != nil {
				return err
			}
			continue

		case gpmf.KindFixed, gpmf.KindComplex:
		}

		if sticky(child, &sc) {
			continue
		}
		if len(child.Elements) == 0 {
			continue
		}

		if sc.device == nil {
			dev, err := in.unknownDevice()
			if err != nil {
				return fmt.Errorf("%s outside DEVC: %w", child.Key, err)
			}
			sc.device = dev
		}
		in.appendSamples(child, sc)
	}
	return nil
}

func (in *interpreter) device(devc *gpmf.Node) (*Device, error) {
	var id string
	if dvid := devc.Find("DVID"); dvid != nil {
		id = deviceID(dvid)
	}

	var dev *Device
	if id == "" {
		var err error
		if dev, err = in.unknownDevice(); err != nil {
			return nil, fmt.Errorf("DEVC without DVID: %w", err)
		}
	} else {
		dev = in.result.Device(id)
	}

	if dvnm := devc.Find("DVNM"); dvnm != nil && dev.Name == "" {
		dev.Name = strings.Join(dvnm.Text(), "")
	}
	return dev, nil
}

func (in *interpreter) unknownDevice() (*Device, error) {
	if in.opts.RequireDevice {
		return nil, ErrUnknownDevice
	}
	in.unknown++
	return in.result.Device("unknown-" + strconv.Itoa(in.unknown)), nil
}

func deviceID(dvid *gpmf.Node) string {
	if dvid.Type.IsText() {
		return strings.Join(dvid.Text(), "")
	}
	nums := dvid.Numbers()
	if len(nums) == 0 {
		return ""
	}
	return strconv.FormatFloat(nums[0], 'f', -1, 64)
}

// sticky applies a sticky node to the scope, it reports
// false if the node is a data node.
func sticky(n *gpmf.Node, sc *scope) bool {
	switch n.Key {
	case "DVID", "DVNM", "TYPE":
		// Handled by the device lookup and the parser.

	case "STNM":
		sc.name = strings.Join(n.Text(), "")

	case "SIUN":
		sc.units = n.Text()
		sc.siun = true

	case "UNIT":
		if !sc.siun {
			sc.units = n.Text()
		}

	case "SCAL":
		sc.scale = n.Numbers()

	case "GPSF":
		if nums := n.Numbers(); len(nums) != 0 {
			fix := int(nums[0])
			sc.gpsFix = &fix
		}

	case "GPSP":
		if nums := n.Numbers(); len(nums) != 0 {
			precision := nums[0] / 100
			sc.gpsPrecision = &precision
		}

	case "GPSU":
		if texts := n.Text(); len(texts) != 0 {
			if date, err := ParseUTCDate(texts[0]); err == nil {
				sc.baseDate = &date
			}
		}

	case "STMP", "TSMP", "TMPC", "ORIN", "ORIO", "MTRX", "EMPT", "TICK", "TOCK", "TIMO":
		// Stream metadata without effect on sample values.

	default:
		return false
	}
	return true
}

// ParseUTCDate parses a GPMF date "yymmddhhmmss.sss".
func ParseUTCDate(s string) (time.Time, error) {
	return time.ParseInLocation("060102150405.000", s, time.UTC)
}

func (in *interpreter) appendSamples(n *gpmf.Node, sc scope) {
	stream := sc.device.Stream(n.Key)
	if stream.Name == "" {
		stream.Name = sc.name
	}
	if len(stream.Units) == 0 {
		stream.Units = sc.units
	}
	if stream.BaseDate == nil {
		stream.BaseDate = sc.baseDate
	}

	for _, elem := range n.Elements {
		var s Sample
		if nums := elem.Numbers(); len(nums) != 0 {
			s.Value = applyScale(nums, sc.scale)
		}
		s.Text = elem.Text()

		switch n.Key {
		case KeyGPS5:
			if sc.gpsFix != nil {
				fix := *sc.gpsFix
				s.Fix = &fix
			}
			if sc.gpsPrecision != nil {
				precision := *sc.gpsPrecision
				s.Precision = &precision
			}
		case KeyGPS9:
			enrichGPS9(&s)
		}
		stream.Samples = append(stream.Samples, s)
	}
}

// applyScale divides each value by its scale. A single scale
// applies to every component.
func applyScale(values []float64, scale []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		div := 1.0
		switch {
		case len(scale) == 1:
			div = scale[0]
		case i < len(scale):
			div = scale[i]
		}
		if div == 0 {
			div = 1
		}
		out[i] = v / div
	}
	return out
}

// enrichGPS9 reads the date, DOP and fix fields of a scaled GPS9
// sample: lat, lon, alt, speed2d, speed3d, days, seconds, DOP, fix.
func enrichGPS9(s *Sample) {
	if len(s.Value) < 9 {
		return
	}
	days := s.Value[5]
	millis := math.Round(s.Value[6] * 1000)
	date := gps9Epoch.
		Add(time.Duration(days) * 24 * time.Hour).
		Add(time.Duration(millis) * time.Millisecond)
	s.Date = &date

	precision := s.Value[7]
	s.Precision = &precision
	fix := int(s.Value[8])
	s.Fix = &fix
}
