// Command ityfuzz runs a stateful grey-box fuzzing campaign against a set
// of deployed EVM contracts, looking for the flash-loan/AMM/reentrancy
// class of vulnerabilities described in spec.md.
package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	gethabi "github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
	"github.com/olekukonko/tablewriter"
	"gopkg.in/urfave/cli.v1"
	"pgregory.net/rand"

	ifuzzcommon "github.com/fuzzland/ityfuzz-go/common"
	fuzzvm "github.com/fuzzland/ityfuzz-go/core/vm"
	"github.com/fuzzland/ityfuzz-go/core/vm/middlewares"
	"github.com/fuzzland/ityfuzz-go/feedback"
	"github.com/fuzzland/ityfuzz-go/fuzzer"
	"github.com/fuzzland/ityfuzz-go/onchain"
	"github.com/fuzzland/ityfuzz-go/oracle"
	"github.com/fuzzland/ityfuzz-go/report"
)

var (
	targetFlag = cli.StringFlag{
		Name:  "target",
		Usage: "glob matching <name>.abi/<name>.bin pairs, or a 0x address when --chain is set",
	}
	seedFlag = cli.Uint64Flag{
		Name:  "seed",
		Usage: "RNG seed for the mutator and caller pool",
		Value: 1,
	}
	workDirFlag = cli.StringFlag{
		Name:  "work_dir",
		Usage: "directory for traces/, vulnerabilities/, and cache/ output",
		Value: "./work",
	}
	chainFlag = cli.StringFlag{
		Name:  "chain",
		Usage: "chain name for on-chain lazy-fetch mode (e.g. eth, bsc); empty disables on-chain mode",
	}
	rpcFlag = cli.StringFlag{
		Name:  "rpc",
		Usage: "JSON-RPC endpoint backing --chain",
	}
	blockNumberFlag = cli.Uint64Flag{
		Name:  "onchain-block-number",
		Usage: "block number to fetch on-chain code/storage at",
	}
	buildServerFlag = cli.StringFlag{
		Name:  "build_server",
		Usage: "base URL of the build server resolving on-chain source maps",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "ityfuzz"
	app.Usage = "stateful fuzzer for EVM smart contract vulnerabilities"
	app.Flags = []cli.Flag{targetFlag, seedFlag, workDirFlag, chainFlag, rpcFlag, blockNumberFlag, buildServerFlag}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		log.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

// run wires the host, executor, middleware chain, oracle battery, and
// campaign loop, then drives it until the operator interrupts or a fatal
// engine error occurs (spec.md §6's exit-code table: 0 for interrupt, 1 for
// a fatal error).
func run(ctx *cli.Context) error {
	workDir := ctx.String(workDirFlag.Name)
	for _, sub := range []string{"traces", "vulnerabilities", "cache"} {
		if err := os.MkdirAll(filepath.Join(workDir, sub), 0o755); err != nil {
			return cli.NewExitError(fmt.Sprintf("creating %s: %v", sub, err), 1)
		}
	}

	host := fuzzvm.NewHost()
	coverage := middlewares.NewCoverage()
	host.Middlewares.Add(coverage)
	host.Middlewares.Add(middlewares.NewFlashloan())
	host.Middlewares.Add(middlewares.NewIntegerOverflow())

	chain := ctx.String(chainFlag.Name)
	var fetchCancel context.CancelFunc
	if chain != "" {
		rpcURL := ctx.String(rpcFlag.Name)
		if rpcURL == "" {
			return cli.NewExitError("--rpc is required when --chain is set", 1)
		}
		apiKeyEnv := strings.ToUpper(chain) + "_ETHERSCAN_API_KEY"
		if os.Getenv(apiKeyEnv) == "" {
			log.Warn("no etherscan API key set, build-server requests may be rate limited", "env", apiKeyEnv)
		}
		fetcher, err := onchain.NewRPCFetcher(rpcURL, ctx.Uint64(blockNumberFlag.Name))
		if err != nil {
			return cli.NewExitError(fmt.Sprintf("connecting to %s: %v", rpcURL, err), 1)
		}
		fetchCtx, cancel := context.WithCancel(context.Background())
		fetchCancel = cancel
		host.CodeFetcher, host.StorageFetcher = onchain.WireHost(fetchCtx, fetcher)
	}
	if fetchCancel != nil {
		defer fetchCancel()
	}

	contracts, err := loadTargets(ctx.String(targetFlag.Name), host)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	if len(contracts) == 0 {
		return cli.NewExitError("no targets matched --target", 1)
	}

	if base := ctx.String(buildServerFlag.Name); base != "" && chain != "" {
		prefetchBuildArtifacts(context.Background(), onchain.NewHTTPBuildServerClient(base), report.NewBuildArtifactCache(workDir), chain, contracts)
	}

	executor := fuzzvm.NewExecutor(host)

	corpus := fuzzer.NewCorpus()
	infants := fuzzer.NewInfantStateCorpus()
	scheduler := fuzzer.NewPowerABIScheduler(corpus)

	seed := ctx.Uint64(seedFlag.Name)
	callers := defaultCallerPool(seed)
	var tokens fuzzer.TokenPool
	for _, c := range contracts {
		tokens = append(tokens, c.Address)
	}
	mutator := fuzzer.NewMutator(seed, callers, tokens, infants, scheduler)

	oracles := feedback.NewOracleFeedback(defaultOracleBattery())
	reporter := report.NewVulnerabilityWriter(workDir)

	loop := fuzzer.NewLoop(executor, corpus, infants, scheduler, mutator, oracles, coverage, workDir, middlewares.NoopSolver{}, 4, reporter)

	var seeds []*fuzzer.EVMInput
	for _, c := range contracts {
		seeds = append(seeds, c.SeedInputs(callers[0])...)
	}
	loop.Seed(seeds)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("campaign starting", "targets", len(contracts), "seeds", len(seeds), "work_dir", workDir)
	if err := loop.Run(runCtx); err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	printSummary(oracles)
	return nil
}

// defaultCallerPool returns a small, deterministic set of candidate
// caller/origin addresses the mutator rotates through, seeded off the
// campaign seed so repeated runs with the same seed are reproducible.
func defaultCallerPool(seed uint64) fuzzer.CallerPool {
	r := rand.New(rand.NewSource(int64(seed)))
	pool := make(fuzzer.CallerPool, 3)
	for i := range pool {
		var addr common.Address
		r.Read(addr[:])
		pool[i] = addr
	}
	return pool
}

// defaultOracleBattery wires every oracle that needs no per-target
// configuration. InvariantOracle and StateCompOracle require a contract-
// specific check list or a desired target state respectively, neither of
// which this generic entrypoint can derive from an ABI/bytecode pair alone,
// so they are left for a future --invariant/--state-comp-target flag.
func defaultOracleBattery() []oracle.Oracle {
	return []oracle.Oracle{
		oracle.NewArbitraryCallOracle(),
		oracle.NewArbitraryTransferOracle(),
		oracle.NewIntegerOverflowOracle(),
		oracle.NewMathCalculateOracle(),
		oracle.NewReentrancyOracle(),
		oracle.NewSelfdestructOracle(),
		oracle.NewTypedBugOracle(),
	}
}

// contractTarget is one <name>.abi/<name>.bin pair resolved from --target.
type contractTarget struct {
	Name    string
	Address common.Address
	ABI     gethabi.ABI
}

// SeedInputs builds one initial EVMInput per exported, non-constant ABI
// method, addressed to caller. Arguments are zero-filled 32-byte words: the
// mutator's byte-level havoc/expand/shrink kinds reshape calldata without
// needing a valid decode, so an exact ABI encoding is not required for a
// seed, only a plausible starting shape.
func (t contractTarget) SeedInputs(caller common.Address) []*fuzzer.EVMInput {
	var out []*fuzzer.EVMInput
	for _, method := range t.ABI.Methods {
		if method.Constant {
			continue
		}
		data := make([]byte, 4+32*len(method.Inputs))
		copy(data, method.ID)
		out = append(out, &fuzzer.EVMInput{
			InputType: ifuzzcommon.ABI,
			Caller:    caller,
			Contract:  t.Address,
			DataABI:   data,
			Value:     new(uint256.Int),
		})
	}
	return out
}

// loadTargets expands glob into <name>.abi/<name>.bin pairs, registers each
// contract's bytecode on host at a deterministically derived address, and
// parses its ABI for seed-input construction. In --chain mode, glob is
// instead treated as a single on-chain address and no local bytecode is
// registered (the host's CodeFetcher resolves it lazily on first access).
func loadTargets(glob string, host *fuzzvm.Host) ([]contractTarget, error) {
	if glob == "" {
		return nil, ifuzzcommon.ErrMissingTargetPair
	}
	if common.IsHexAddress(glob) {
		return []contractTarget{{Name: glob, Address: common.HexToAddress(glob)}}, nil
	}

	binPaths, err := filepath.Glob(glob + ".bin")
	if err != nil {
		return nil, err
	}
	var out []contractTarget
	for i, binPath := range binPaths {
		name := strings.TrimSuffix(filepath.Base(binPath), ".bin")
		abiPath := strings.TrimSuffix(binPath, ".bin") + ".abi"

		binData, err := os.ReadFile(binPath)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, ifuzzcommon.ErrMissingTargetPair)
		}
		abiData, err := os.ReadFile(abiPath)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, ifuzzcommon.ErrMissingTargetPair)
		}
		parsedABI, err := gethabi.JSON(bytes.NewReader(abiData))
		if err != nil {
			return nil, fmt.Errorf("%s: parsing abi: %w", name, err)
		}
		code, err := decodeHexBytecode(string(binData))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}

		addr := deterministicAddress(name, i)
		host.SetCode(addr, code, abiData)
		out = append(out, contractTarget{Name: name, Address: addr, ABI: parsedABI})
	}
	return out, nil
}

func decodeHexBytecode(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "0x")
	out, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decoding bytecode hex: %w", err)
	}
	return out, nil
}

// deterministicAddress derives a stable per-target address from its file
// name and position, so repeated runs against the same --target glob
// always deploy to the same addresses.
func deterministicAddress(name string, index int) common.Address {
	var addr common.Address
	addr[19] = byte(index + 1)
	copy(addr[:16], name)
	return addr
}

// prefetchBuildArtifacts requests and caches a build-server artifact for
// every on-chain target up front, so oracles can annotate findings with a
// source location without blocking mid-campaign on the build server's
// polling cadence. A target the build server has no artifact for is
// skipped silently; the affected findings fall back to the degraded path
// (report.DegradedArtifact) and common.ErrNoArtifact, per spec.md §7.
func prefetchBuildArtifacts(ctx context.Context, client *onchain.HTTPBuildServerClient, cache *report.BuildArtifactCache, chain string, contracts []contractTarget) {
	for _, c := range contracts {
		addr := c.Address.Hex()
		if _, ok := cache.Get(chain, addr); ok {
			continue
		}
		taskID, err := client.RequestBuild(ctx, chain, addr, []string{"abi", "sourcemap"})
		if err != nil {
			log.Warn("build server request failed", "contract", c.Name, "err", err)
			continue
		}
		result, err := client.AwaitTask(ctx, taskID)
		if err != nil {
			log.Warn("build server task failed", "contract", c.Name, "err", err)
			continue
		}
		if err := cache.Put(chain, addr, result); err != nil {
			log.Warn("caching build artifact failed", "contract", c.Name, "err", err)
		}
	}
}

// printSummary renders the campaign's distinct findings as a console table
// once the loop exits.
func printSummary(oracles *feedback.OracleFeedback) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"bug_id", "kind", "contract", "message"})
	count := 0
	for _, f := range oracles.AllFindings {
		table.Append([]string{
			fmt.Sprintf("%d", f.BugID),
			f.Kind.String(),
			f.ContractName,
			f.Message,
		})
		count++
	}
	if count == 0 {
		log.Info("campaign finished with no findings")
		return
	}
	table.Render()
}
