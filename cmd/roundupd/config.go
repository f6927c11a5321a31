package main

import (
	"errors"
	"fmt"
	"os"
	"reflect"

	"github.com/naoina/toml"
	"github.com/urfave/cli/v2"

	"github.com/roderickjackson-bradley/elmgives-api/internal/flags"
)

var (
	configFileFlag = &cli.StringFlag{
		Name:     "config",
		Usage:    "TOML configuration file",
		Category: flags.MiscCategory,
	}
	dataDirFlag = &cli.StringFlag{
		Name:     "datadir",
		Usage:    "Data directory for the pipeline database",
		Value:    "roundup",
		Category: flags.PipelineCategory,
	}
	verbosityFlag = &cli.StringFlag{
		Name:     "verbosity",
		Usage:    "Logging verbosity: trace|debug|info|warn|error|crit",
		Value:    "info",
		Category: flags.LoggingCategory,
	}
	toSignerQueueFlag = &cli.StringFlag{
		Name:     "queue.tosigner",
		Usage:    "SQS queue URL for envelopes awaiting the co-signer",
		EnvVars:  []string{"AWS_SQS_URL_TO_SIGNER"},
		Category: flags.QueueCategory,
	}
	fromSignerQueueFlag = &cli.StringFlag{
		Name:     "queue.fromsigner",
		Usage:    "SQS queue URL for co-signed envelopes",
		EnvVars:  []string{"AWS_SQS_URL_FROM_SIGNER"},
		Category: flags.QueueCategory,
	}
	plaidEnvFlag = &cli.StringFlag{
		Name:     "plaid.env",
		Usage:    "Aggregator environment (e.g. tartan, api)",
		EnvVars:  []string{"PLAID_ENV"},
		Category: flags.AggregatorCategory,
	}
	plaidClientIDFlag = &cli.StringFlag{
		Name:     "plaid.clientid",
		Usage:    "Aggregator client id",
		EnvVars:  []string{"PLAID_CLIENTID"},
		Category: flags.AggregatorCategory,
	}
	plaidSecretFlag = &cli.StringFlag{
		Name:     "plaid.secret",
		Usage:    "Aggregator secret",
		EnvVars:  []string{"PLAID_SECRET"},
		Category: flags.AggregatorCategory,
	}
	signerURLFlag = &cli.StringFlag{
		Name:     "signer.url",
		Usage:    "Base URL of the external co-signer service",
		EnvVars:  []string{"SIGNER_URL"},
		Category: flags.SignerCategory,
	}
	signerPublicKeyFlag = &cli.StringFlag{
		Name:     "signer.serverpublickey",
		Usage:    "Hex public half of this server's signing key, used by settle to verify returned envelopes (not the co-signer's own key)",
		EnvVars:  []string{"SIGNER_PUBLIC_KEY"},
		Category: flags.SignerCategory,
	}
	serverPrivateKeyFlag = &cli.StringFlag{
		Name:     "signer.serverprivatekey",
		Usage:    "Hex ed25519 server signing key (intake)",
		EnvVars:  []string{"SERVER_PRIVATE_KEY"},
		Category: flags.SignerCategory,
	}
	serverKidFlag = &cli.StringFlag{
		Name:     "signer.serverkid",
		Usage:    "Key id stamped into envelope signature headers",
		EnvVars:  []string{"SERVER_KID"},
		Category: flags.SignerCategory,
	}
	gteFlag = &cli.StringFlag{
		Name:     "gte",
		Usage:    "Override the transaction range start (YYYY-MM-DD)",
		Category: flags.PipelineCategory,
	}
	lteFlag = &cli.StringFlag{
		Name:     "lte",
		Usage:    "Override the transaction range end (YYYY-MM-DD)",
		Category: flags.PipelineCategory,
	}
)

// config is the aggregate of everything roundupd needs; TOML keys use
// the same names as the struct fields.
type config struct {
	DataDir          string
	ToSignerQueue    string
	FromSignerQueue  string
	PlaidEnv         string
	PlaidClientID    string
	PlaidSecret      string
	SignerURL        string
	SignerPublicKey  string
	ServerPrivateKey string
	ServerKid        string
}

// These settings ensure that TOML keys use the same names as Go struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		return fmt.Errorf("field '%s' is not defined in %s", field, rt.String())
	},
}

// makeConfig layers the configuration: file first, then flag and
// environment overrides.
func makeConfig(ctx *cli.Context) (*config, error) {
	cfg := &config{DataDir: dataDirFlag.Value}
	if file := ctx.String(configFileFlag.Name); file != "" {
		if err := loadConfigFile(file, cfg); err != nil {
			return nil, err
		}
	}
	applyFlags(ctx, cfg)
	return cfg, nil
}

func loadConfigFile(file string, cfg *config) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(f).Decode(cfg)
	// Add file name to errors that have a line number.
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(file + ", " + err.Error())
	}
	return err
}

func applyFlags(ctx *cli.Context, cfg *config) {
	setString := func(flag *cli.StringFlag, dst *string) {
		if v := ctx.String(flag.Name); ctx.IsSet(flag.Name) && v != "" {
			*dst = v
		}
	}
	setString(dataDirFlag, &cfg.DataDir)
	setString(toSignerQueueFlag, &cfg.ToSignerQueue)
	setString(fromSignerQueueFlag, &cfg.FromSignerQueue)
	setString(plaidEnvFlag, &cfg.PlaidEnv)
	setString(plaidClientIDFlag, &cfg.PlaidClientID)
	setString(plaidSecretFlag, &cfg.PlaidSecret)
	setString(signerURLFlag, &cfg.SignerURL)
	setString(signerPublicKeyFlag, &cfg.SignerPublicKey)
	setString(serverPrivateKeyFlag, &cfg.ServerPrivateKey)
	setString(serverKidFlag, &cfg.ServerKid)
}
