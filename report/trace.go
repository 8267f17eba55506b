package report

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/log"

	"github.com/fuzzland/ityfuzz-go/crypto"
	"github.com/fuzzland/ityfuzz-go/onchain"
)

// VulnerabilityWriter appends EVMBugResult records to
// vulnerabilities/<contract_name>.t.sol, deduplicating by bug_idx per
// spec.md §7 ("appended once per bug_idx").
type VulnerabilityWriter struct {
	WorkDir string
	seen    map[uint64]bool
}

// NewVulnerabilityWriter returns a writer rooted at workDir (the CLI's
// work_dir flag).
func NewVulnerabilityWriter(workDir string) *VulnerabilityWriter {
	return &VulnerabilityWriter{WorkDir: workDir, seen: make(map[uint64]bool)}
}

// Append writes result as one JSON line to
// vulnerabilities/<contract_name>.t.sol, creating the directory and file
// as needed. A bug_idx already appended is silently skipped.
func (w *VulnerabilityWriter) Append(result EVMBugResult) error {
	if w.seen[result.BugIdx] {
		return nil
	}
	dir := filepath.Join(w.WorkDir, "vulnerabilities")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	name := result.ContractName
	if name == "" {
		name = "unknown"
	}
	path := filepath.Join(dir, fmt.Sprintf("%s.t.sol", name))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	line, err := json.Marshal(result)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}
	w.seen[result.BugIdx] = true
	log.Info("vulnerability recorded", "bug_idx", result.BugIdx, "kind", result.Kind.String(), "contract", name)
	return nil
}

// BuildArtifactCache persists BuildJobResult artifacts under
// cache/<hash>, keyed by hash(onchain_<chain>_<addr>), per spec.md §6.
type BuildArtifactCache struct {
	WorkDir string
}

// NewBuildArtifactCache returns a cache rooted at workDir.
func NewBuildArtifactCache(workDir string) *BuildArtifactCache {
	return &BuildArtifactCache{WorkDir: workDir}
}

func (c *BuildArtifactCache) keyFor(chain, addr string) string {
	digest := crypto.Keccak256([]byte(fmt.Sprintf("onchain_%s_%s", chain, addr)))
	return hex.EncodeToString(digest)
}

func (c *BuildArtifactCache) path(chain, addr string) string {
	return filepath.Join(c.WorkDir, "cache", c.keyFor(chain, addr))
}

// Get loads a cached artifact, treating any deserialization failure as a
// cache miss (spec.md §7's "Corpus corruption" policy generalizes to any
// on-disk cache: treat the entry as absent and re-fetch).
func (c *BuildArtifactCache) Get(chain, addr string) (*onchain.BuildJobResult, bool) {
	data, err := os.ReadFile(c.path(chain, addr))
	if err != nil {
		return nil, false
	}
	var result onchain.BuildJobResult
	if err := json.Unmarshal(data, &result); err != nil {
		log.Warn("build artifact cache entry corrupt, treating as absent", "chain", chain, "addr", addr, "err", err)
		return nil, false
	}
	return &result, true
}

// Put serializes result to cache/<hash>, creating the directory as needed.
func (c *BuildArtifactCache) Put(chain, addr string, result *onchain.BuildJobResult) error {
	dir := filepath.Join(c.WorkDir, "cache")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path(chain, addr), data, 0o644)
}
