// Command videod runs the personalized video service and its operator tools.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
)

// @title       videod
// @version     1.0
// @description Personalized video request lifecycle API.
// @BasePath    /api
// @schemes     http https
func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
