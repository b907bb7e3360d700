package main

import (
	"context"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/callrelay/callrelay/internal/callingester"
	"github.com/callrelay/callrelay/internal/callingester/configuration"
	"github.com/callrelay/callrelay/internal/common"
	commonconfig "github.com/callrelay/callrelay/internal/common/config"
)

const (
	CustomConfigLocation = "config"
	MigrateDatabase      = "migrateDatabase"
)

func init() {
	pflag.StringSlice(
		CustomConfigLocation,
		[]string{},
		"Fully qualified path to application configuration file (for multiple config files repeat this arg or separate paths with commas)",
	)
	pflag.Bool(MigrateDatabase, false, "Migrate the call_records schema and exit instead of running the ingester")
	pflag.Parse()
}

func main() {
	common.ConfigureLogging()
	common.BindCommandlineArguments()

	var config configuration.CallIngesterConfiguration
	userSpecifiedConfigs := viper.GetStringSlice(CustomConfigLocation)
	common.LoadConfig(&config, "./config/callingester", userSpecifiedConfigs)

	if err := config.Validate(); err != nil {
		commonconfig.LogValidationErrors(err)
		os.Exit(-1)
	}

	if viper.GetBool(MigrateDatabase) {
		log.Info("Migrating database")
		if err := callingester.MigrateDatabase(context.Background(), &config); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}
		return
	}

	callingester.Run(&config)
}
