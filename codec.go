package ialarm

import (
	"encoding/hex"
	"fmt"
	"net"
	"net/netip"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Kind is the tag of a field value, as it appears before the first comma
// or pipe of the encoded text.
type Kind string

const (
	KindBool     Kind = "BOL"
	KindDate     Kind = "DTA"
	KindErr      Kind = "ERR"
	KindBytes    Kind = "GBA"
	KindClock    Kind = "HMA"
	KindIP       Kind = "IPA"
	KindMAC      Kind = "MAC"
	KindHex      Kind = "NEA"
	KindNum      Kind = "NUM"
	KindPassword Kind = "PWD"
	KindInt      Kind = "S32"
	KindString   Kind = "STR"
	KindType     Kind = "TYP"
)

const (
	dateLayout = "2006.01.02.15.04.05"
	noneLabel  = "NONE"
)

// Clock is a time of day with minute precision.
type Clock struct {
	Hour   int
	Minute int
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

func EncodeString(s string) string {
	return fmt.Sprintf("STR,%d|%s", utf8.RuneCountInString(s), s)
}

func EncodePassword(s string) string {
	return fmt.Sprintf("PWD,%d|%s", utf8.RuneCountInString(s), s)
}

// EncodeInt encodes a signed 32 bit integer. The panel expects two length
// metadata fields; a single meta value is used for both, none means 0,0.
func EncodeInt(v int32, meta ...int) string {
	lo, hi := 0, 0
	switch len(meta) {
	case 0:
	case 1:
		lo, hi = meta[0], meta[0]
	default:
		lo, hi = meta[0], meta[1]
	}
	return fmt.Sprintf("S32,%d,%d|%d", lo, hi, v)
}

func EncodeBool(b bool) string {
	if b {
		return "BOL|T"
	}
	return "BOL|F"
}

// EncodeType encodes idx using its label from labels. Indexes without a
// label are sent with the NONE label.
func EncodeType(idx int, labels ...string) string {
	label := noneLabel
	if idx >= 0 && idx < len(labels) && labels[idx] != "" {
		label = labels[idx]
	}
	return fmt.Sprintf("TYP,%s|%d", label, idx)
}

func EncodeDate(t time.Time) string {
	s := t.Format(dateLayout)
	return fmt.Sprintf("DTA,%d|%s", len(s), s)
}

func EncodeClock(c Clock) string {
	s := c.String()
	return fmt.Sprintf("HMA,%d|%s", len(s), s)
}

func EncodeIP(ip netip.Addr) string {
	s := ip.String()
	return fmt.Sprintf("IPA,%d|%s", len(s), s)
}

func EncodeMAC(mac net.HardwareAddr) string {
	s := strings.ToUpper(mac.String())
	return fmt.Sprintf("MAC,%d|%s", len(s), s)
}

// EncodeBytes encodes text as hex, the way the panel stores zone and
// switch names.
func EncodeBytes(b []byte) string {
	return fmt.Sprintf("GBA,%d|%X", len(b), b)
}

func EncodeHex(b []byte) string {
	return fmt.Sprintf("NEA,%d|%X", len(b), b)
}

func EncodeNum(digits string, width int) string {
	return fmt.Sprintf("NUM,%d,%d|%s", width, width, digits)
}

func EncodeErr(code int) string {
	return fmt.Sprintf("ERR|%02d", code)
}

// Encode dispatches to the typed encoders. Meta is only used by S32 (the
// two length fields), TYP (the label list) and NUM (the width).
func Encode(kind Kind, v any, meta ...any) (string, error) {
	switch kind {
	case KindBool:
		if b, ok := v.(bool); ok {
			return EncodeBool(b), nil
		}
	case KindDate:
		if t, ok := v.(time.Time); ok {
			return EncodeDate(t), nil
		}
	case KindErr:
		if i, ok := v.(int); ok {
			return EncodeErr(i), nil
		}
	case KindBytes:
		switch b := v.(type) {
		case string:
			return EncodeBytes([]byte(b)), nil
		case []byte:
			return EncodeBytes(b), nil
		}
	case KindClock:
		if c, ok := v.(Clock); ok {
			return EncodeClock(c), nil
		}
	case KindIP:
		if ip, ok := v.(netip.Addr); ok {
			return EncodeIP(ip), nil
		}
	case KindMAC:
		if mac, ok := v.(net.HardwareAddr); ok {
			return EncodeMAC(mac), nil
		}
	case KindHex:
		if b, ok := v.([]byte); ok {
			return EncodeHex(b), nil
		}
	case KindNum:
		if s, ok := v.(string); ok {
			width := len(s)
			if len(meta) > 0 {
				if w, ok := meta[0].(int); ok {
					width = w
				}
			}
			return EncodeNum(s, width), nil
		}
	case KindPassword:
		if s, ok := v.(string); ok {
			return EncodePassword(s), nil
		}
	case KindInt:
		var ints []int
		for _, m := range meta {
			if i, ok := m.(int); ok {
				ints = append(ints, i)
			}
		}
		switch i := v.(type) {
		case int:
			return EncodeInt(int32(i), ints...), nil
		case int32:
			return EncodeInt(i, ints...), nil
		}
	case KindString:
		if s, ok := v.(string); ok {
			return EncodeString(s), nil
		}
	case KindType:
		if i, ok := v.(int); ok {
			var labels []string
			for _, m := range meta {
				switch l := m.(type) {
				case string:
					labels = append(labels, l)
				case []string:
					labels = append(labels, l...)
				}
			}
			return EncodeType(i, labels...), nil
		}
	default:
		return "", fmt.Errorf("unknown field kind %q", kind)
	}
	return "", fmt.Errorf("cannot encode %T as %s", v, kind)
}

type pattern struct {
	kind  Kind
	re    *regexp.Regexp
	parse func(m []string) (any, error)
}

// patterns are tried in order, first match wins.
var patterns = []pattern{
	{KindBool, regexp.MustCompile(`^BOL\|([FT])`), func(m []string) (any, error) {
		return m[1] == "T", nil
	}},
	// panels without a set clock send zeroed or garbage dates: those are
	// the zero time, not a failure of the whole message
	{KindDate, regexp.MustCompile(`^DTA(?:,\d+)*\|(.*)`), func(m []string) (any, error) {
		t, err := time.Parse(dateLayout, m[1])
		if err != nil {
			log.Debug("invalid date", "raw", m[1], "err", err)
			return time.Time{}, nil
		}
		return t, nil
	}},
	{KindErr, regexp.MustCompile(`^ERR\|(\d{2})`), func(m []string) (any, error) {
		return strconv.Atoi(m[1])
	}},
	{KindBytes, regexp.MustCompile(`^GBA,(\d+)\|([0-9A-F]*)`), func(m []string) (any, error) {
		b, err := hex.DecodeString(m[2])
		return string(b), err
	}},
	{KindClock, regexp.MustCompile(`^HMA,(\d+)\|(\d{2}):(\d{2})`), func(m []string) (any, error) {
		h, _ := strconv.Atoi(m[2])
		mm, _ := strconv.Atoi(m[3])
		if h > 23 || mm > 59 {
			return nil, fmt.Errorf("invalid clock %s:%s", m[2], m[3])
		}
		return Clock{Hour: h, Minute: mm}, nil
	}},
	{KindIP, regexp.MustCompile(`^IPA,(\d+)\|((?:[0-2]?\d{0,2}\.){3}[0-2]?\d{0,2})`), func(m []string) (any, error) {
		return netip.ParseAddr(m[2])
	}},
	{KindMAC, regexp.MustCompile(`^MAC,(\d+)\|((?:[0-9A-F]{2}[:-]){5}[0-9A-F]{2})`), func(m []string) (any, error) {
		return net.ParseMAC(m[2])
	}},
	{KindHex, regexp.MustCompile(`^NEA,(\d+)\|([0-9A-F]+)`), func(m []string) (any, error) {
		return hex.DecodeString(m[2])
	}},
	{KindNum, regexp.MustCompile(`^NUM,(\d+),(\d+)\|(\d*)`), func(m []string) (any, error) {
		return m[3], nil
	}},
	{KindPassword, regexp.MustCompile(`^(?s)PWD,(\d+)\|(.*)`), func(m []string) (any, error) {
		return m[2], nil
	}},
	{KindInt, regexp.MustCompile(`^S32,(\d+),(\d+)\|(-?\d+)`), func(m []string) (any, error) {
		i, err := strconv.ParseInt(m[3], 10, 32)
		return int(i), err
	}},
	{KindString, regexp.MustCompile(`^(?s)STR,(\d+)\|(.*)`), func(m []string) (any, error) {
		return m[2], nil
	}},
	{KindType, regexp.MustCompile(`^TYP,(\w+)\|(-?\d+)`), func(m []string) (any, error) {
		return strconv.Atoi(m[2])
	}},
}

// Decode parses a tagged value into its kind and Go value:
//
//	BOL bool, DTA time.Time (UTC, panel wall clock, zero when invalid),
//	ERR int, GBA string,
//	HMA Clock, IPA netip.Addr, MAC net.HardwareAddr, NEA []byte,
//	NUM string, PWD string, S32 int, STR string, TYP int.
//
// Text that matches no kind yields a *FieldDecodeError.
func Decode(raw string) (Kind, any, error) {
	for _, p := range patterns {
		m := p.re.FindStringSubmatch(raw)
		if m == nil {
			continue
		}
		v, err := p.parse(m)
		if err != nil {
			return p.kind, nil, &FieldDecodeError{Raw: raw, Err: err}
		}
		return p.kind, v, nil
	}
	return "", nil, &FieldDecodeError{Raw: raw}
}

// truthy mirrors how the panel reports errors: absent, zero, false and
// empty all mean "no error".
func truthy(v any) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case int:
		return v != 0
	case string:
		return v != ""
	default:
		return true
	}
}
