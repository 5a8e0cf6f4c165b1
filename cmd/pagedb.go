package cmd

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lintang-b-s/pagedb/lib/config"
)

var (
	pagedbCmd = &cobra.Command{
		Use:               "pagedb",
		Short:             "A disk-oriented storage engine",
		Long:              "Pagedb is the buffer pool, b+tree index and transaction core of a disk-oriented database.",
		PersistentPreRunE: pagedbPreRun,
	}

	configFile = "pagedb.hcl"
	logLevel   = "info"

	cfg config.Config
)

func init() {
	log.SetFormatter(&log.TextFormatter{
		DisableLevelTruncation: true,
	})

	fs := pagedbCmd.PersistentFlags()
	fs.StringVar(&configFile, "config-file", configFile, "`file` to load config from")
	fs.StringVar(&logLevel, "log-level", logLevel,
		"log level: trace, debug, info, warn, error, fatal, or panic")
}

func pagedbPreRun(cmd *cobra.Command, args []string) error {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)

	cfg, err = config.Load(configFile)
	if err != nil {
		return err
	}
	return nil
}

func Execute() error {
	return pagedbCmd.Execute()
}
