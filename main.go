package main

import (
	"os"

	"github.com/firefly-engineering/browserpool/cmd"
	"github.com/firefly-engineering/browserpool/internal/errors"
	"github.com/firefly-engineering/browserpool/internal/logging"
)

func main() {
	if err := cmd.Execute(); err != nil {
		logging.UserError("%v", err)
		os.Exit(errors.GetExitCode(err))
	}
}
