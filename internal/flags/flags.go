// Package flags holds the shared urfave/cli helpers used by the
// roundupd command.
package flags

import (
	"github.com/urfave/cli/v2"
)

const (
	PipelineCategory   = "PIPELINE"
	AggregatorCategory = "BANK AGGREGATOR"
	SignerCategory     = "SIGNER"
	QueueCategory      = "QUEUE"
	LoggingCategory    = "LOGGING AND DEBUGGING"
	MiscCategory       = "MISC"
)

func init() {
	cli.HelpFlag.(*cli.BoolFlag).Category = MiscCategory
	cli.VersionFlag.(*cli.BoolFlag).Category = MiscCategory
}

// NewApp creates an app with sane defaults. The version is stamped from
// the linker-provided commit hash and date.
func NewApp(gitCommit, gitDate, usage string) *cli.App {
	app := cli.NewApp()
	app.EnableBashCompletion = true
	app.Version = versionWithCommit(gitCommit, gitDate)
	app.Usage = usage
	app.Copyright = "Copyright 2016-2026 The elmgives-api Authors"
	return app
}

const version = "1.0.0"

func versionWithCommit(gitCommit, gitDate string) string {
	vsn := version
	if len(gitCommit) >= 8 {
		vsn += "-" + gitCommit[:8]
	}
	if gitDate != "" {
		vsn += "-" + gitDate
	}
	return vsn
}
