package port

import (
	"fmt"
	"strconv"
	"strings"
)

// Bounds of a usable TCP port.
const (
	MinPort = 1
	MaxPort = 65535
)

// Range is an inclusive port range.
type Range struct {
	From int
	To   int
}

// Validate checks the range is non-empty and within TCP port bounds.
func (r Range) Validate() error {
	if r.From < MinPort || r.To > MaxPort {
		return fmt.Errorf("port range %s outside %d-%d", r, MinPort, MaxPort)
	}
	if r.From > r.To {
		return fmt.Errorf("port range %s is empty", r)
	}
	return nil
}

// Size is the number of ports in the range.
func (r Range) Size() int {
	if r.To < r.From {
		return 0
	}
	return r.To - r.From + 1
}

// Contains reports whether p lies in the range.
func (r Range) Contains(p int) bool {
	return p >= r.From && p <= r.To
}

// Ports lists every port in ascending order.
func (r Range) Ports() []int {
	ports := make([]int, 0, r.Size())
	for p := r.From; p <= r.To; p++ {
		ports = append(ports, p)
	}
	return ports
}

func (r Range) String() string {
	return fmt.Sprintf("%d-%d", r.From, r.To)
}

// Parse reads a range written as "from-to" or a single port.
func Parse(s string) (Range, error) {
	fromStr, toStr, found := strings.Cut(strings.TrimSpace(s), "-")
	if !found {
		toStr = fromStr
	}

	from, err := strconv.Atoi(strings.TrimSpace(fromStr))
	if err != nil {
		return Range{}, fmt.Errorf("invalid port range %q: %w", s, err)
	}
	to, err := strconv.Atoi(strings.TrimSpace(toStr))
	if err != nil {
		return Range{}, fmt.Errorf("invalid port range %q: %w", s, err)
	}

	r := Range{From: from, To: to}
	if err := r.Validate(); err != nil {
		return Range{}, err
	}
	return r, nil
}
