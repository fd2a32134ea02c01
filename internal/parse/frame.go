package parse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var frameRe = regexp.MustCompile(`^<([01]{8}),(\d{2}),(\d{2}),(\d{2}),(\d{2}),(\d+(?:\.\d+)?),([FS])>$`)

// Frame holds the fields of a controller frame <BITS,D1,D2,D3,D4,FREQ,FLAG>.
type Frame struct {
	Bits      string
	Powers    [4]int
	Frequency string
	Flag      string
}

// ParseFrame validates and splits a raw controller frame.
func ParseFrame(raw string) (Frame, error) {
	m := frameRe.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return Frame{}, fmt.Errorf("malformed frame %q", raw)
	}

	f := Frame{Bits: m[1], Frequency: m[6], Flag: m[7]}
	for i := 0; i < 4; i++ {
		p, err := strconv.Atoi(m[2+i])
		if err != nil {
			return Frame{}, fmt.Errorf("bad power D%d in frame %q: %w", i+1, raw, err)
		}
		f.Powers[i] = p
	}
	return f, nil
}
