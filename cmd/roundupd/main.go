// roundupd runs the round-up micro-donation pipeline: the intake
// command selects pledged users, chains their eligible transactions
// into signed envelopes and enqueues them for the external co-signer;
// the settle command drains the co-signed queue back into the database.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/roderickjackson-bradley/elmgives-api/intake"
	"github.com/roderickjackson-bradley/elmgives-api/internal/flags"
	"github.com/roderickjackson-bradley/elmgives-api/log"
	"github.com/roderickjackson-bradley/elmgives-api/plaid"
	"github.com/roderickjackson-bradley/elmgives-api/queue"
	"github.com/roderickjackson-bradley/elmgives-api/settle"
	"github.com/roderickjackson-bradley/elmgives-api/signer"
	"github.com/roderickjackson-bradley/elmgives-api/store"
)

// Git SHA1 commit hash of the release (set via linker flags)
var gitCommit = ""
var gitDate = ""

var app *cli.App

var sharedFlags = []cli.Flag{
	configFileFlag,
	dataDirFlag,
}

func init() {
	app = flags.NewApp(gitCommit, gitDate, "the round-up donation pipeline")
	app.Flags = []cli.Flag{verbosityFlag}
	app.Commands = []*cli.Command{
		{
			Name:   "intake",
			Usage:  "Chain new round-ups and enqueue them for the co-signer",
			Action: runIntake,
			Flags: append([]cli.Flag{
				toSignerQueueFlag,
				plaidEnvFlag,
				plaidClientIDFlag,
				plaidSecretFlag,
				signerURLFlag,
				serverPrivateKeyFlag,
				serverKidFlag,
				gteFlag,
				lteFlag,
			}, sharedFlags...),
		},
		{
			Name:   "settle",
			Usage:  "Drain co-signed envelopes and advance address tips",
			Action: runSettle,
			Flags: append([]cli.Flag{
				fromSignerQueueFlag,
				signerPublicKeyFlag,
			}, sharedFlags...),
		},
	}
	app.Before = func(ctx *cli.Context) error {
		return setupLogging(ctx)
	}
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogging(ctx *cli.Context) error {
	lvl, err := log.LvlFromString(ctx.String(verbosityFlag.Name))
	if err != nil {
		return err
	}
	log.Root().SetHandler(log.LvlFilterHandler(lvl, log.StderrHandler))
	return nil
}

// rootContext is cancelled on SIGINT/SIGTERM so a draining consumer
// stops between polls instead of mid-commit.
func rootContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runIntake(cliCtx *cli.Context) error {
	cfg, err := makeConfig(cliCtx)
	if err != nil {
		return err
	}
	if cfg.ToSignerQueue == "" || cfg.SignerURL == "" {
		return errors.New("intake requires the to-signer queue URL and signer URL")
	}
	key, err := signer.ParseKey(cfg.ServerKid, cfg.ServerPrivateKey)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := rootContext()
	defer cancel()

	api, err := queue.Dial(ctx)
	if err != nil {
		return err
	}
	pc := plaid.NewClient(plaid.Config{
		Env:      cfg.PlaidEnv,
		ClientID: cfg.PlaidClientID,
		Secret:   cfg.PlaidSecret,
	})
	worker := intake.NewWorker(st, pc, queue.NewProducer(api, cfg.ToSignerQueue), key, cfg.SignerURL)
	sched := intake.NewScheduler(st, worker)
	err = sched.Run(ctx, intake.RunRange{
		Gte: cliCtx.String(gteFlag.Name),
		Lte: cliCtx.String(lteFlag.Name),
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runSettle(cliCtx *cli.Context) error {
	cfg, err := makeConfig(cliCtx)
	if err != nil {
		return err
	}
	if cfg.FromSignerQueue == "" || cfg.SignerPublicKey == "" {
		return errors.New("settle requires the from-signer queue URL and server public key")
	}
	st, err := store.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := rootContext()
	defer cancel()

	api, err := queue.Dial(ctx)
	if err != nil {
		return err
	}
	consumer, err := settle.NewConsumer(st, queue.NewConsumer(api, cfg.FromSignerQueue), cfg.SignerPublicKey)
	if err != nil {
		return err
	}
	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
