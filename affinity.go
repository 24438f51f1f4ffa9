package posepuppet

import (
	"fmt"
	"strconv"
	"strings"
)

// CPUCoreMask calculates the core mask by passing in the CPU core numbers as a
// slice, eg: []int{4,5,6,7}
func CPUCoreMask(cores []int) uintptr {

	var mask uintptr

	for _, core := range cores {
		mask |= 1 << core
	}

	return mask
}

// ParseCPUList parses a Linux style CPU list such as "4-7" or "0,2,4-5" into
// core numbers
func ParseCPUList(s string) ([]int, error) {

	var cores []int

	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)

		if field == "" {
			continue
		}

		lo, hi, isRange := strings.Cut(field, "-")

		first, err := strconv.Atoi(lo)

		if err != nil {
			return nil, fmt.Errorf("invalid CPU list %q: %w", s, err)
		}

		last := first

		if isRange {
			if last, err = strconv.Atoi(hi); err != nil {
				return nil, fmt.Errorf("invalid CPU list %q: %w", s, err)
			}
		}

		if first < 0 || last < first || last >= 64 {
			return nil, fmt.Errorf("invalid CPU range %q", field)
		}

		for c := first; c <= last; c++ {
			cores = append(cores, c)
		}
	}

	if len(cores) == 0 {
		return nil, fmt.Errorf("empty CPU list")
	}

	return cores, nil
}
