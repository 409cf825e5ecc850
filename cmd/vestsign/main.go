// Command vestsign produces the signed payloads vestd accepts: position
// grants, direct distributions and caller authentication headers. It also
// encrypts signing keys for storage on disk.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/vestd/internal/config"
	"github.com/alanyoungcy/vestd/internal/crypto"
	"github.com/alanyoungcy/vestd/internal/vesting"
)

const usage = `usage: vestsign <command> [flags]

commands:
  grant        sign a position grant and print the POST /api/positions body
  distribute   sign a distribution and print the POST /api/distributions body
  caller-auth  print X-Caller-* headers for the signing key
  encrypt-key  encrypt a hex private key to a key file
`

func main() {
	if err := run(os.Args[1:], os.Stdout, time.Now); err != nil {
		fmt.Fprintln(os.Stderr, "vestsign:", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer, now func() time.Time) error {
	if len(args) == 0 {
		return errors.New(usage)
	}
	switch args[0] {
	case "grant":
		return grant(args[1:], out, now)
	case "distribute":
		return distribute(args[1:], out, now)
	case "caller-auth":
		return callerAuth(args[1:], out, now)
	case "encrypt-key":
		return encryptKey(args[1:], out)
	default:
		return fmt.Errorf("unknown command %q\n%s", args[0], usage)
	}
}

// signerFlags are shared by every signing command.
type signerFlags struct {
	configPath string
	key        string
}

func (s *signerFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&s.configPath, "config", "", "vestd config file (chain domain and signer key)")
	fs.StringVar(&s.key, "key", "", "hex private key, overrides the configured signer")
}

func (s *signerFlags) load() (*crypto.Signer, error) {
	cfg, err := config.Load(s.configPath)
	if err != nil {
		return nil, err
	}
	d := crypto.Domain{
		Name:              cfg.Chain.DomainName,
		Version:           cfg.Chain.DomainVersion,
		ChainID:           cfg.Chain.ChainID,
		VerifyingContract: common.HexToAddress(cfg.Chain.VerifyingContract),
	}
	kc := crypto.KeyConfig{
		RawPrivateKey:    cfg.Signer.PrivateKey,
		EncryptedKeyPath: cfg.Signer.EncryptedKeyPath,
		KeyPassword:      cfg.Signer.KeyPassword,
	}
	if s.key != "" {
		kc = crypto.KeyConfig{RawPrivateKey: s.key}
	}
	return crypto.LoadSigner(kc, d)
}

func grant(args []string, out io.Writer, now func() time.Time) error {
	fs := flag.NewFlagSet("grant", flag.ContinueOnError)
	var sf signerFlags
	sf.register(fs)
	recipient := fs.String("recipient", "", "recipient address")
	principal := fs.String("principal", "", "principal in base units")
	start := fs.Uint64("start", 0, "vesting start (unix seconds, 0 = at creation)")
	period := fs.Uint64("period", 0, "vesting period in period units")
	cliff := fs.Uint64("cliff", 0, "cliff in seconds added to the start")
	level := fs.String("level", "0", "companion collectible level (0 = none)")
	ttl := fs.Duration("ttl", time.Hour, "signature lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	to, err := address("recipient", *recipient)
	if err != nil {
		return err
	}
	amount, err := uint256.FromDecimal(*principal)
	if err != nil {
		return fmt.Errorf("principal: %w", err)
	}
	lvl, err := uint256.FromDecimal(*level)
	if err != nil {
		return fmt.Errorf("level: %w", err)
	}
	signer, err := sf.load()
	if err != nil {
		return err
	}

	expiry := uint64(now().Add(*ttl).Unix())
	sig, err := signer.SignGrant(crypto.Grant{
		Recipient:     to,
		Amount:        *amount,
		VestingStart:  *start,
		VestingPeriod: *period,
		Cliff:         *cliff,
		Level:         *lvl,
		Expiry:        expiry,
	})
	if err != nil {
		return err
	}
	return writeJSON(out, map[string]any{
		"recipient":      to.Hex(),
		"principal":      amount.Dec(),
		"vesting_start":  *start,
		"vesting_period": *period,
		"cliff":          *cliff,
		"level":          lvl.Dec(),
		"expiry":         expiry,
		"signature":      sig,
	})
}

func distribute(args []string, out io.Writer, now func() time.Time) error {
	fs := flag.NewFlagSet("distribute", flag.ContinueOnError)
	var sf signerFlags
	sf.register(fs)
	recipient := fs.String("recipient", "", "recipient address")
	amountStr := fs.String("amount", "", "amount in base units")
	ttl := fs.Duration("ttl", time.Hour, "signature lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	to, err := address("recipient", *recipient)
	if err != nil {
		return err
	}
	amount, err := uint256.FromDecimal(*amountStr)
	if err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	signer, err := sf.load()
	if err != nil {
		return err
	}

	expiry := uint64(now().Add(*ttl).Unix())
	// Distributions pin the vesting fields to zero and the level to the
	// placeholder that no position can carry.
	sig, err := signer.SignGrant(crypto.Grant{
		Recipient: to,
		Amount:    *amount,
		Level:     vesting.DistributionLevel,
		Expiry:    expiry,
	})
	if err != nil {
		return err
	}
	return writeJSON(out, map[string]any{
		"recipient": to.Hex(),
		"amount":    amount.Dec(),
		"expiry":    expiry,
		"signature": sig,
	})
}

func callerAuth(args []string, out io.Writer, now func() time.Time) error {
	fs := flag.NewFlagSet("caller-auth", flag.ContinueOnError)
	var sf signerFlags
	sf.register(fs)
	ts := fs.Uint64("timestamp", 0, "unix timestamp to sign (0 = now)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	signer, err := sf.load()
	if err != nil {
		return err
	}
	if *ts == 0 {
		*ts = uint64(now().Unix())
	}
	sig, err := signer.SignCallerAuth(*ts)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "X-Caller-Address: %s\nX-Caller-Timestamp: %s\nX-Caller-Signature: %s\n",
		signer.Address().Hex(), strconv.FormatUint(*ts, 10), sig)
	return err
}

func encryptKey(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("encrypt-key", flag.ContinueOnError)
	key := fs.String("key", os.Getenv("VESTD_SIGNER_PRIVATE_KEY"), "hex private key")
	password := fs.String("password", os.Getenv("VESTD_SIGNER_KEY_PASSWORD"), "encryption password")
	path := fs.String("out", "", "output file (stdout when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *key == "" || *password == "" {
		return errors.New("encrypt-key: -key and -password are required")
	}
	blob, err := crypto.EncryptKey(*key, *password)
	if err != nil {
		return err
	}
	if *path == "" {
		_, err = out.Write(append(blob, '\n'))
		return err
	}
	return os.WriteFile(*path, blob, 0o600)
}

func address(field, raw string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%s: %q is not a hex address", field, raw)
	}
	return common.HexToAddress(raw), nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
