package random

import (
	"math/rand"
	"time"
)

var source int64

// PortsFromRange returns 'count' distinct random ports between 'start'
// and 'end'. Consecutive calls reuse an advancing seed so two pools drawn
// in the same nanosecond still differ.
func PortsFromRange(start int, end int, count int) []int {
	if source == 0 {
		source = time.Now().UnixNano()
	} else {
		source = source + 1
	}
	r := rand.New(rand.NewSource(source))
	ports := map[int]struct{}{}
	for len(ports) < count {
		port := r.Intn(end-start) + start
		ports[port] = struct{}{}
	}

	out := []int{}
	for port := range ports {
		out = append(out, port)
	}

	return out
}

// Ports returns 'count' random ports in the range 22768 to 32768.
func Ports(count int) []int {
	const lowEnd = 22768
	const highEnd = 32768
	return PortsFromRange(lowEnd, highEnd, count)
}
