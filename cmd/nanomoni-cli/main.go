// Command nanomoni-cli is a thin demo client: it drives the Issuer and
// Vendor HTTP surfaces on behalf of one Client keypair, for manual testing
// and scripted demos. It is explicitly outside the core's scope; it exists
// only to give the system an end-to-end walking skeleton, the way lncli
// exists alongside lnd without being part of the Lightning protocol engine
// itself.
package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli"

	"github.com/nanomoni/nanomoni/chancrypto"
	"github.com/nanomoni/nanomoni/clientsdk"
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[nanomoni-cli] %v\n", err)
	os.Exit(1)
}

func main() {
	app := cli.NewApp()
	app.Name = "nanomoni-cli"
	app.Usage = "drive the NanoMoni Issuer and Vendor HTTP surfaces as a demo Client"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "issuerurl",
			Usage: "base URL of the Issuer's HTTP API",
			Value: "http://localhost:8090",
		},
		cli.StringFlag{
			Name:  "vendorurl",
			Usage: "base URL of the Vendor's HTTP API",
			Value: "http://localhost:8080",
		},
		cli.StringFlag{
			Name:  "keyfile",
			Usage: "path to this Client's persisted private key; generated on first use if missing",
			Value: "nanomoni-client.key",
		},
	}
	app.Commands = []cli.Command{
		OpenSignatureCommand,
		PaySignatureCommand,
		CloseCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}

func newClient(ctx *cli.Context) *clientsdk.Client {
	key, err := loadOrCreateKey(ctx.GlobalString("keyfile"))
	if err != nil {
		fatal(err)
	}
	return clientsdk.New(ctx.GlobalString("issuerurl"), ctx.GlobalString("vendorurl"), key)
}

// loadOrCreateKey persists the demo Client's keypair across CLI invocations,
// since pay-signature and close must sign with the same key open-signature
// registered with the Issuer and the Vendor.
func loadOrCreateKey(path string) (*chancrypto.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		decoded, err := hex.DecodeString(string(raw))
		if err != nil {
			return nil, fmt.Errorf("parse key file: %w", err)
		}
		return chancrypto.PrivateKeyFromBytes(decoded), nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	key, err := chancrypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(key.Raw().Serialize())), 0600); err != nil {
		return nil, fmt.Errorf("write key file: %w", err)
	}
	return key, nil
}

var OpenSignatureCommand = cli.Command{
	Name:      "open-signature",
	Usage:     "register with the Issuer and open a Signature-mode channel",
	ArgsUsage: "channel-amount",
	Description: "Fetch a certificate from the Issuer for this Client's stored keypair,\n" +
		"then open a Signature-mode channel of the given amount at the Vendor.",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() < 1 {
			return fmt.Errorf("channel-amount is required")
		}
		var channelAmount uint64
		if _, err := fmt.Sscan(ctx.Args().First(), &channelAmount); err != nil {
			return fmt.Errorf("parse channel-amount: %w", err)
		}

		c := newClient(ctx)
		cert, err := c.Register(channelAmount)
		if err != nil {
			return err
		}

		channelID, err := c.OpenSignatureChannel(cert, channelAmount)
		if err != nil {
			return err
		}

		fmt.Println(channelID)
		return nil
	},
}

var PaySignatureCommand = cli.Command{
	Name:      "pay-signature",
	Usage:     "send a Signature-mode payment",
	ArgsUsage: "channel-id channel-id-hex cumulative-owed-amount",
	Description: "Send a cumulative-signed-update payment on an open Signature-mode\n" +
		"channel. channel-id-hex is the channel's raw 16-byte id as hex, needed\n" +
		"because the signed payload covers the id bytes, not its string form.",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() < 3 {
			return fmt.Errorf("channel-id, channel-id-hex, and cumulative-owed-amount are required")
		}

		channelID := ctx.Args().Get(0)
		idBytes, err := hex.DecodeString(ctx.Args().Get(1))
		if err != nil {
			return fmt.Errorf("parse channel-id-hex: %w", err)
		}
		var owed uint64
		if _, err := fmt.Sscan(ctx.Args().Get(2), &owed); err != nil {
			return fmt.Errorf("parse cumulative-owed-amount: %w", err)
		}

		c := newClient(ctx)
		accepted, err := c.PaySignature(channelID, idBytes, owed)
		if err != nil {
			return err
		}

		fmt.Println(accepted)
		return nil
	},
}

var CloseCommand = cli.Command{
	Name:      "close",
	Usage:     "close a channel",
	ArgsUsage: "channel-id channel-id-hex final-owed-amount",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() < 3 {
			return fmt.Errorf("channel-id, channel-id-hex, and final-owed-amount are required")
		}

		channelID := ctx.Args().Get(0)
		idBytes, err := hex.DecodeString(ctx.Args().Get(1))
		if err != nil {
			return fmt.Errorf("parse channel-id-hex: %w", err)
		}
		var owed uint64
		if _, err := fmt.Sscan(ctx.Args().Get(2), &owed); err != nil {
			return fmt.Errorf("parse final-owed-amount: %w", err)
		}

		c := newClient(ctx)
		final, err := c.Close(channelID, idBytes, owed, time.Now())
		if err != nil {
			return err
		}

		fmt.Println(final)
		return nil
	},
}
