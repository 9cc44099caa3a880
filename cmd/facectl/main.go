// Command facectl manages a user's expression slots on a protoface server
// and can act as a terminal face surface.
//
//	facectl login fox_99
//	facectl --user fox_99 upload --slot 3 0.png 1.png 2.png
//	facectl --user fox_99 status
//	facectl --user fox_99 face --side right
package main

import (
	"context"
	"os"
)

func main() {
	logger := NewLogger(nil)
	runner := NewRunner(RunnerOpts{Logger: logger})

	if err := runner.App().Run(context.Background(), os.Args); err != nil {
		logger.Fatalf("facectl: %v", err)
	}
}
