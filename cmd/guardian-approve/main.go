// Command guardian-approve signs a challenge message with the guardian key
// and publishes it in an approval transaction.
package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"
	"github.com/layer-3/guardian"
	"github.com/layer-3/guardian/adapters/chain"
	"github.com/layer-3/guardian/adapters/wallet"
	"github.com/layer-3/guardian/config"
	"github.com/layer-3/guardian/service"
	"github.com/spf13/pflag"
)

// initLog is replaced in tests
var initLog = config.InitLog

func main() {
	flags := config.Flags("guardian-approve")
	message := flags.String("message", "", "challenge message to sign")
	daemon := flags.String("daemon", "", "daemon URL; with --site the challenge is fetched and the removal confirmed")
	site := flags.String("site", "", "blocked site to approve the removal of")
	if err := flags.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	if err := run(flags, *message, *daemon, *site); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(flags *pflag.FlagSet, message, daemon, site string) error {
	cfg, err := config.Load(flags)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logFile, err := initLog(cfg)
	if err != nil {
		return err
	}
	defer logFile.Close()

	if cfg.RPCURL == "" {
		return fmt.Errorf("RPC_URL is required to send transactions")
	}
	if cfg.GuardianPrivateKey == "" {
		return fmt.Errorf("GUARDIAN_PRIVATE_KEY is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var client *guardian.Client
	var ticket string
	if daemon != "" && site != "" {
		client = guardian.NewClient(daemon, cfg.APIKey, nil)
		prompt, err := client.RequestRemoval(ctx, site)
		if err != nil {
			return err
		}
		message, ticket = prompt.Message, prompt.Ticket
		log.Info("Fetched challenge", "site", prompt.Site, "expires", prompt.ExpiresAt)
	}
	if message == "" {
		return fmt.Errorf("--message, or --daemon with --site, is required")
	}

	w, err := wallet.KeyWalletFromHex(cfg.GuardianPrivateKey)
	if err != nil {
		return err
	}
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", cfg.RPCURL, err)
	}
	defer eth.Close()

	value, err := service.EtherToWei(cfg.ApprovalValueETH)
	if err != nil {
		return err
	}
	sender := chain.NewEthSender(eth, w)
	approvals := service.NewApprovalSender(service.ApprovalConfig{
		ChainID:   big.NewInt(cfg.ChainID),
		Recipient: common.HexToAddress(cfg.ApprovalRecipient),
		Value:     value,
	}, w, sender)

	txHash, err := approvals.Approve(ctx, message)
	if err != nil {
		return err
	}
	fmt.Println(txHash)

	if client == nil {
		return nil
	}

	// The transaction has to be mined before the daemon can look it up
	receipt, err := sender.WaitMined(ctx, txHash, 3*time.Second)
	if err != nil {
		return err
	}
	log.Info("Approval mined", "tx", txHash, "block", receipt.BlockNumber)

	result, err := client.ConfirmRemoval(ctx, site, txHash, w.Address().Hex(), ticket)
	if err != nil {
		return err
	}
	fmt.Println(result.Status)
	return nil
}
