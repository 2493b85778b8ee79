// Command shopload generates virtual-user load against the e-commerce
// gateway and reports per-operation latency and error rates.
//
// Usage:
//
//	shopload run [flags]
//	shopload profiles [flags]
//
// Exit codes: 0 on success, 1 when a threshold failed, 2 on error.
package main

import (
	"os"
)

const (
	ExitSuccess         = 0
	ExitThresholdFailed = 1
	ExitError           = 2
)

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}
