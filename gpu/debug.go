package gpu

import "fmt"

// Debug enables verbose logging of buffer allocation, kernel compilation
// and dispatch.
var Debug bool

// Log prints a debug message when Debug is enabled.
func Log(format string, args ...any) {
	if Debug {
		fmt.Printf("[gpu] "+format+"\n", args...)
	}
}
