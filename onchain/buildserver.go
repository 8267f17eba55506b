package onchain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// pollInterval matches spec.md §6's "Client polls every 500 ms."
const pollInterval = 500 * time.Millisecond

// ASTNode is one entry of a BuildJobResult's `ast{id:ASTNode}` map. The
// build server's AST schema is compiler-specific and opaque to this
// engine; fields are kept generic enough for a source-map annotator to
// walk without this package needing to understand Solidity/Move grammar.
type ASTNode struct {
	ID       int               `json:"id"`
	NodeType string            `json:"nodeType"`
	Src      string            `json:"src"`
	Children []int             `json:"children,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// SourceFile is one entry of a BuildJobResult's `sources{id,source}`.
type SourceFile struct {
	ID     int    `json:"id"`
	Source string `json:"source"`
}

// BuildJobResult is the signed-URL payload described in spec.md §6:
// `{success, sourcemap, replaces[], runtime_bytecode, sources{id,source},
// abi, ast{id:ASTNode}}`. It round-trips through JSON unchanged (spec.md
// §8 property 7).
type BuildJobResult struct {
	Success         bool              `json:"success"`
	SourceMap       string            `json:"sourcemap"`
	Replaces        []string          `json:"replaces"`
	RuntimeBytecode string            `json:"runtime_bytecode"`
	Sources         []SourceFile      `json:"sources"`
	ABI             json.RawMessage   `json:"abi"`
	AST             map[int]ASTNode   `json:"ast"`
}

// TaskStatus is the `status` field of a task poll response.
type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskDone    TaskStatus = "done"
	TaskError   TaskStatus = "error"
)

// BuildServerClient resolves a deployed (chain, address) pair to its
// compiled artifacts, the interface the oracle layer consults for source-
// map-annotated findings (spec.md §7's "Missing artifact" degraded path).
type BuildServerClient interface {
	RequestBuild(ctx context.Context, chain, addr string, needs []string) (taskID string, err error)
	PollTask(ctx context.Context, taskID string) (TaskStatus, *BuildJobResult, error)
}

// HTTPBuildServerClient implements BuildServerClient against the HTTP
// protocol spec.md §6 specifies, verbatim: `GET /onchain/{chain}/{addr}`
// returns a task_id, `GET /task/{task_id}/` is polled for a signed results
// URL, which is itself fetched and unmarshaled into a BuildJobResult.
type HTTPBuildServerClient struct {
	BaseURL string
	HTTP    *http.Client
}

// NewHTTPBuildServerClient returns a client against baseURL (e.g.
// "https://build.ityfuzz.example").
func NewHTTPBuildServerClient(baseURL string) *HTTPBuildServerClient {
	return &HTTPBuildServerClient{BaseURL: baseURL, HTTP: &http.Client{Timeout: 30 * time.Second}}
}

type requestBuildResponse struct {
	Code   int    `json:"code"`
	TaskID string `json:"task_id"`
}

type pollTaskResponse struct {
	Code    int    `json:"code"`
	Status  string `json:"status"`
	Results string `json:"results"`
}

func (c *HTTPBuildServerClient) RequestBuild(ctx context.Context, chain, addr string, needs []string) (string, error) {
	url := fmt.Sprintf("%s/onchain/%s/%s?needs=%s", c.BaseURL, chain, addr, joinComma(needs))
	var resp requestBuildResponse
	if err := c.getJSON(ctx, url, &resp); err != nil {
		return "", err
	}
	if resp.Code != 200 {
		return "", fmt.Errorf("onchain: build server returned code %d for %s/%s", resp.Code, chain, addr)
	}
	return resp.TaskID, nil
}

func (c *HTTPBuildServerClient) PollTask(ctx context.Context, taskID string) (TaskStatus, *BuildJobResult, error) {
	url := fmt.Sprintf("%s/task/%s/", c.BaseURL, taskID)
	var resp pollTaskResponse
	if err := c.getJSON(ctx, url, &resp); err != nil {
		return "", nil, err
	}
	status := TaskStatus(resp.Status)
	if status != TaskDone {
		return status, nil, nil
	}
	var result BuildJobResult
	if err := c.getJSON(ctx, resp.Results, &result); err != nil {
		return status, nil, fmt.Errorf("onchain: fetching signed results URL: %w", err)
	}
	return status, &result, nil
}

// AwaitTask polls PollTask every pollInterval until the task completes or
// ctx is cancelled, matching spec.md §6's polling cadence.
func (c *HTTPBuildServerClient) AwaitTask(ctx context.Context, taskID string) (*BuildJobResult, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			status, result, err := c.PollTask(ctx, taskID)
			if err != nil {
				log.Warn("build server poll failed", "task_id", taskID, "err", err)
				continue
			}
			switch status {
			case TaskDone:
				return result, nil
			case TaskError:
				return nil, fmt.Errorf("onchain: build server task %s failed", taskID)
			default:
				// pending: keep polling
			}
		}
	}
}

func (c *HTTPBuildServerClient) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ","
		}
		out += p
	}
	return out
}

// DegradedArtifact is the sentinel BuildJobResult an oracle annotates a
// finding with when the build server has no artifact for a contract, per
// spec.md §7 ("Missing artifact ... Oracle emits a degraded bug record
// 'no build_job_result' and the engine continues") and
// common.ErrNoArtifact.
var DegradedArtifact = BuildJobResult{Success: false}
