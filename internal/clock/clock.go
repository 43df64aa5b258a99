// Package clock supplies the monotonic time source and page-alignment
// arithmetic shared by every other package in the dataplane.
package clock

import "time"

// PageSize is the build-time page size in bytes.
const PageSize = 4096

// pageMask masks off the in-page offset bits of an address.
const pageMask = uintptr(PageSize - 1)

var start = time.Now()

// Now returns a monotonic nanosecond timestamp. Successive calls from the
// same goroutine never decrease, because it is derived from time.Since
// against a fixed process-start instant, which Go guarantees carries a
// monotonic reading.
func Now() int64 {
	return int64(time.Since(start))
}

// Align returns addr rounded down to the nearest page boundary.
func Align(addr uintptr) uintptr {
	return addr &^ pageMask
}

// Offset returns the in-page byte offset of addr.
func Offset(addr uintptr) uintptr {
	return addr & pageMask
}
