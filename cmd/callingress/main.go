package main

import (
	"os"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/callrelay/callrelay/internal/callingress"
	"github.com/callrelay/callrelay/internal/callingress/configuration"
	"github.com/callrelay/callrelay/internal/common"
	commonconfig "github.com/callrelay/callrelay/internal/common/config"
)

const CustomConfigLocation = "config"

func init() {
	pflag.StringSlice(
		CustomConfigLocation,
		[]string{},
		"Fully qualified path to application configuration file (for multiple config files repeat this arg or separate paths with commas)",
	)
	pflag.Parse()
}

func main() {
	common.ConfigureLogging()
	common.BindCommandlineArguments()

	var config configuration.CallIngressConfiguration
	userSpecifiedConfigs := viper.GetStringSlice(CustomConfigLocation)
	common.LoadConfig(&config, "./config/callingress", userSpecifiedConfigs)

	if err := config.Validate(); err != nil {
		commonconfig.LogValidationErrors(err)
		os.Exit(-1)
	}
	callingress.Run(&config)
}
