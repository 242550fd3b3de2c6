package config

import (
	"fmt"
	"os"
	"strings"
)

// Exitf writes a formatted error message to stderr and exits with code 1.
// Mains call it when startup configuration cannot be recovered from.
func Exitf(format string, args ...any) {
	message := strings.TrimRight(fmt.Sprintf(format, args...), "\n")
	fmt.Fprintln(os.Stderr, message)
	os.Exit(1)
}
