package main

import (
	"os"

	"github.com/callrelay/callrelay/cmd/callctl/cmd"
	"github.com/callrelay/callrelay/internal/common"
	"github.com/callrelay/callrelay/internal/common/app"
)

func main() {
	common.ConfigureCommandLineLogging()
	if err := cmd.RootCmd().ExecuteContext(app.CreateContextWithShutdown()); err != nil {
		os.Exit(1)
	}
}
