package main

import (
	"encoding/json"
	"errors"
	"fmt"
	stdlog "log"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/status-im/hwsigner-go/ledger"
	"github.com/status-im/hwsigner-go/registry"
	"github.com/status-im/hwsigner-go/signer"
	"github.com/status-im/hwsigner-go/transport"
	"github.com/urfave/cli/v2"
)

const probeTimeout = 30 * time.Second

var logger = log.New("package", "hwsigner-go/cmd/hwsigner")

var errNoPayload = errors.New("you must specify a payload with --data or --text")

func main() {
	app := &cli.App{
		Name:  "hwsigner",
		Usage: "Derive addresses and sign payloads with a Ledger device",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Address of the device APDU socket (emulator or bridge)",
				Value: "127.0.0.1:9999",
			},
			&cli.StringFlag{
				Name:  "chain",
				Usage: "Chain slug, for example polkadot or kusama",
				Value: "polkadot",
			},
			&cli.BoolFlag{
				Name:  "evm",
				Usage: "Chain is EVM compatible and uses the Ethereum app",
			},
			&cli.StringFlag{
				Name:  "registry",
				Usage: "YAML file with networks overriding the built-in registry",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: `Log level, one of: "error", "warn", "info", "debug", and "trace"`,
				Value: "info",
			},
		},
		Before: initLogger,
		Commands: []*cli.Command{
			{
				Name:  "networks",
				Usage: "List the networks known to the registry",
				Action: func(c *cli.Context) error {
					reg, err := loadRegistry(c)
					if err != nil {
						return err
					}

					return printJSON(reg.Networks())
				},
			},
			{
				Name:  "address",
				Usage: "Derive an address",
				Flags: append(derivationFlags(),
					&cli.BoolFlag{
						Name:  "show",
						Usage: "Display the address on the device and wait for confirmation",
					},
				),
				Action: commandAddress,
			},
			{
				Name:   "version",
				Usage:  "Print the version of the app running on the device",
				Action: commandVersion,
			},
			{
				Name:   "sign-tx",
				Usage:  "Sign an encoded transaction",
				Flags:  append(derivationFlags(), payloadFlags()...),
				Action: commandSignTransaction,
			},
			{
				Name:   "sign-message",
				Usage:  "Sign an arbitrary message",
				Flags:  append(derivationFlags(), payloadFlags()...),
				Action: commandSignMessage,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Error("error executing command", "error", err)
		os.Exit(1)
	}
}

func initLogger(c *cli.Context) error {
	level, err := log.LvlFromString(strings.ToLower(c.String("log-level")))
	if err != nil {
		stdlog.Fatal(err)
	}

	handler := log.StreamHandler(os.Stderr, log.TerminalFormat(true))
	filteredHandler := log.LvlFilterHandler(level, handler)
	log.Root().SetHandler(filteredHandler)

	return nil
}

func derivationFlags() []cli.Flag {
	return []cli.Flag{
		&cli.UintFlag{Name: "account", Usage: "Account index"},
		&cli.UintFlag{Name: "change", Usage: "Change index"},
		&cli.UintFlag{Name: "index", Usage: "Address index"},
		&cli.UintFlag{Name: "account-offset", Usage: "Offset added to the account index"},
		&cli.UintFlag{Name: "address-offset", Usage: "Offset added to the address index"},
	}
}

func payloadFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "data", Usage: "Payload as hex"},
		&cli.StringFlag{Name: "text", Usage: "Payload as text"},
	}
}

func selector(c *cli.Context) (ledger.Selector, ledger.Offsets) {
	return ledger.Selector{
			Account:      uint32(c.Uint("account")),
			Change:       uint32(c.Uint("change")),
			AddressIndex: uint32(c.Uint("index")),
		}, ledger.Offsets{
			Account: uint32(c.Uint("account-offset")),
			Address: uint32(c.Uint("address-offset")),
		}
}

func payload(c *cli.Context) ([]byte, error) {
	switch {
	case c.String("data") != "":
		return common.FromHex(c.String("data")), nil
	case c.String("text") != "":
		return []byte(c.String("text")), nil
	}

	return nil, errNoPayload
}

func loadRegistry(c *cli.Context) (*registry.Registry, error) {
	if path := c.String("registry"); path != "" {
		return registry.LoadFile(path)
	}

	return registry.Default(), nil
}

// withSigner connects to the device, waits for the probe and runs fn against a ready signer.
func withSigner(c *cli.Context, fn func(*signer.Signer) error) error {
	reg, err := loadRegistry(c)
	if err != nil {
		return err
	}

	ch, err := transport.Dial(c.String("addr"))
	if err != nil {
		return err
	}

	states := make(chan signer.Snapshot, 16)
	s, err := signer.New(
		signer.WithRegistry(reg),
		signer.WithOnChange(func(snap signer.Snapshot) {
			select {
			case states <- snap:
			default:
			}
		}),
	)
	if err != nil {
		ch.Close()
		return err
	}

	chain := registry.Chain{Slug: c.String("chain"), EVMCompatible: c.Bool("evm")}
	if err := s.Connect(ch, chain); err != nil {
		ch.Close()
		return err
	}

	defer func() {
		if err := s.Close(); err != nil {
			logger.Error("error disconnecting device", "error", err)
		}
	}()

	if err := waitProbe(states); err != nil {
		return err
	}

	logger.Debug("device ready", "chain", chain.Slug, "app", s.Snapshot().AppName)

	return fn(s)
}

func waitProbe(states <-chan signer.Snapshot) error {
	timeout := time.After(probeTimeout)
	for {
		select {
		case snap := <-states:
			switch snap.State {
			case signer.Ready:
				return nil
			case signer.Locked, signer.Errored:
				return errors.New(snap.Error)
			}
		case <-timeout:
			return fmt.Errorf("device did not answer within %s", probeTimeout)
		}
	}
}

func commandAddress(c *cli.Context) error {
	return withSigner(c, func(s *signer.Signer) error {
		sel, off := selector(c)
		if c.Bool("show") {
			fmt.Println("confirm the address on your device...")
			addr, err := s.ShowAddress(sel, off)
			if err != nil {
				return err
			}

			return printJSON(addr)
		}

		addr, err := s.GetAddressAt(sel, off)
		if err != nil {
			return err
		}

		return printJSON(addr)
	})
}

func commandVersion(c *cli.Context) error {
	return withSigner(c, func(s *signer.Signer) error {
		v, err := s.GetVersion()
		if err != nil {
			return err
		}

		return printJSON(v)
	})
}

func commandSignTransaction(c *cli.Context) error {
	data, err := payload(c)
	if err != nil {
		return err
	}

	return withSigner(c, func(s *signer.Signer) error {
		sel, off := selector(c)
		fmt.Println("review the transaction on your device...")
		sig, err := s.SignTransactionAt(sel, data, off)
		if err != nil {
			return err
		}

		return printJSON(sig)
	})
}

func commandSignMessage(c *cli.Context) error {
	data, err := payload(c)
	if err != nil {
		return err
	}

	return withSigner(c, func(s *signer.Signer) error {
		sel, off := selector(c)
		fmt.Println("review the message on your device...")
		sig, err := s.SignMessageAt(sel, data, off)
		if err != nil {
			return err
		}

		return printJSON(sig)
	})
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	fmt.Println(string(out))

	return nil
}
