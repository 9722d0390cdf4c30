package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Sumatoshi-tech/seedfang/internal/config"
	"github.com/Sumatoshi-tech/seedfang/internal/criteria"
)

// Tool name constants.
const (
	ToolNameSearchStart         = "seedfang_search_start"
	ToolNameSearchStatus        = "seedfang_search_status"
	ToolNameSearchStop          = "seedfang_search_stop"
	ToolNameCriteriaSave        = "seedfang_criteria_save"
	ToolNameCriteriaFingerprint = "seedfang_criteria_fingerprint"
)

// statusResultLimit caps the matches returned per status call.
const statusResultLimit = 50

// Sentinel errors for tool input validation.
var (
	// ErrEmptyCriteria indicates the criteria parameter is empty.
	ErrEmptyCriteria = errors.New("criteria parameter is required and must not be empty")
	// ErrNoSession indicates no session exists for the requested key.
	ErrNoSession = errors.New("no session for this criteria, deck, and stake")
	// ErrEmptyPath indicates the path parameter is empty.
	ErrEmptyPath = errors.New("path parameter is required and must not be empty")
)

// Input types (auto-generate JSON schemas via struct tags).

// SearchStartInput is the input schema for the seedfang_search_start tool.
type SearchStartInput struct {
	Criteria      string `json:"criteria"                 jsonschema:"criteria document id (file name without extension)"`
	Deck          string `json:"deck,omitempty"           jsonschema:"deck to search (default red)"`
	Stake         string `json:"stake,omitempty"          jsonschema:"stake to search (default white)"`
	Threads       int    `json:"threads,omitempty"        jsonschema:"engine worker count (default: number of CPUs)"`
	BatchExponent *int   `json:"batch_exponent,omitempty" jsonschema:"keyspace partition exponent 0-7 (default 3)"`
	Seed          string `json:"seed,omitempty"           jsonschema:"evaluate exactly this seed instead of the keyspace"`
	WordList      string `json:"wordlist,omitempty"       jsonschema:"search seeds from this named word list"`
	DBList        string `json:"dblist,omitempty"         jsonschema:"search seeds from this named result database"`
	MinScore      int    `json:"min_score,omitempty"      jsonschema:"minimum score for a seed to be recorded"`
	StartBatch    uint64 `json:"start_batch,omitempty"    jsonschema:"batch offset to start at when no checkpoint exists"`
}

// SearchKeyInput identifies one search session by its key.
type SearchKeyInput struct {
	Criteria string `json:"criteria"        jsonschema:"criteria document id"`
	Deck     string `json:"deck,omitempty"  jsonschema:"deck (default red)"`
	Stake    string `json:"stake,omitempty" jsonschema:"stake (default white)"`
}

// SearchStopInput is the input schema for the seedfang_search_stop tool.
type SearchStopInput struct {
	Criteria string `json:"criteria"        jsonschema:"criteria document id"`
	Deck     string `json:"deck,omitempty"  jsonschema:"deck; leave empty with stake to stop all sessions for the criteria"`
	Stake    string `json:"stake,omitempty" jsonschema:"stake; leave empty with deck to stop all sessions for the criteria"`
}

// CriteriaPathInput is the input schema for criteria document tools.
type CriteriaPathInput struct {
	Path string `json:"path" jsonschema:"absolute path to a criteria YAML document"`
}

// Output type (used as structured output for generic AddTool).

// ToolOutput is a generic wrapper for tool results.
type ToolOutput struct {
	Data any `json:"data"`
}

// sessionStatus is the status tool's structured payload.
type sessionStatus struct {
	SessionID       string        `json:"session_id"`
	Criteria        string        `json:"criteria"`
	Deck            string        `json:"deck"`
	Stake           string        `json:"stake"`
	State           string        `json:"state"`
	SeedsSearched   uint64        `json:"seeds_searched"`
	ResultsFound    uint64        `json:"results_found"`
	PercentComplete float64       `json:"percent_complete"`
	SeedsPerMS      float64       `json:"seeds_per_ms"`
	ETASeconds      *float64      `json:"eta_seconds,omitempty"`
	NewMatches      []matchOutput `json:"new_matches,omitempty"`
	Error           string        `json:"error,omitempty"`
}

type matchOutput struct {
	Seed    string    `json:"seed"`
	Score   int       `json:"score"`
	FoundAt time.Time `json:"found_at"`
}

func (s *Server) handleSearchStart(
	ctx context.Context,
	_ *mcpsdk.CallToolRequest,
	input SearchStartInput,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if input.Criteria == "" {
		return errorResult(ErrEmptyCriteria)
	}

	tree, err := criteria.LoadTree(s.criteriaPath(input.Criteria))
	if err != nil {
		return errorResult(fmt.Errorf("load criteria: %w", err))
	}

	crit := criteria.Criteria{
		ID:            criteria.NormalizeID(input.Criteria),
		Deck:          defaultString(input.Deck, config.DefaultDeck),
		Stake:         defaultString(input.Stake, config.DefaultStake),
		Threads:       input.Threads,
		BatchExponent: config.DefaultBatchExponent,
		Seed:          input.Seed,
		WordListID:    input.WordList,
		DBListID:      input.DBList,
		MinScore:      input.MinScore,
		StartBatch:    input.StartBatch,
	}

	if crit.Threads == 0 {
		crit.Threads = runtime.NumCPU()
	}

	if input.BatchExponent != nil {
		crit.BatchExponent = *input.BatchExponent
	}

	sess, err := s.registry.StartSearch(ctx, crit, tree)
	if err != nil {
		return errorResult(err)
	}

	return jsonResult(map[string]any{
		"session_id": sess.ID.String(),
		"criteria":   crit.ID,
		"deck":       crit.Deck,
		"stake":      crit.Stake,
		"mode":       string(crit.Mode()),
		"state":      string(sess.State()),
	})
}

func (s *Server) handleSearchStatus(
	ctx context.Context,
	_ *mcpsdk.CallToolRequest,
	input SearchKeyInput,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if input.Criteria == "" {
		return errorResult(ErrEmptyCriteria)
	}

	key := criteria.Key{
		CriteriaID: criteria.NormalizeID(input.Criteria),
		Deck:       defaultString(input.Deck, config.DefaultDeck),
		Stake:      defaultString(input.Stake, config.DefaultStake),
	}

	sess, ok := s.registry.Lookup(key)
	if !ok {
		return errorResult(ErrNoSession)
	}

	snap := sess.Poll()

	status := sessionStatus{
		SessionID:       sess.ID.String(),
		Criteria:        key.CriteriaID,
		Deck:            key.Deck,
		Stake:           key.Stake,
		State:           string(snap.State),
		SeedsSearched:   snap.SeedsSearched,
		ResultsFound:    snap.ResultsFound,
		PercentComplete: snap.PercentComplete,
		SeedsPerMS:      snap.SeedsPerMS,
	}

	if snap.ETA != nil {
		secs := snap.ETA.Seconds()
		status.ETASeconds = &secs
	}

	if sessErr := sess.Err(); sessErr != nil {
		status.Error = sessErr.Error()
	}

	matches, _, err := sess.DrainNewResults(ctx, statusResultLimit)
	if err != nil {
		return errorResult(err)
	}

	for _, m := range matches {
		status.NewMatches = append(status.NewMatches, matchOutput{
			Seed:    m.Seed,
			Score:   m.Score,
			FoundAt: m.FoundAt,
		})
	}

	return jsonResult(status)
}

func (s *Server) handleSearchStop(
	_ context.Context,
	_ *mcpsdk.CallToolRequest,
	input SearchStopInput,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if input.Criteria == "" {
		return errorResult(ErrEmptyCriteria)
	}

	id := criteria.NormalizeID(input.Criteria)

	if input.Deck == "" && input.Stake == "" {
		stopped, err := s.registry.StopAll(id)
		if err != nil {
			return errorResult(err)
		}

		return jsonResult(map[string]any{"criteria": id, "sessions_stopped": stopped})
	}

	key := criteria.Key{
		CriteriaID: id,
		Deck:       defaultString(input.Deck, config.DefaultDeck),
		Stake:      defaultString(input.Stake, config.DefaultStake),
	}

	sess, ok := s.registry.Lookup(key)
	if !ok {
		return errorResult(ErrNoSession)
	}

	err := sess.Stop()
	if err != nil {
		return errorResult(err)
	}

	return jsonResult(map[string]any{"criteria": id, "sessions_stopped": 1})
}

func (s *Server) handleCriteriaSave(
	ctx context.Context,
	_ *mcpsdk.CallToolRequest,
	input CriteriaPathInput,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if input.Path == "" {
		return errorResult(ErrEmptyPath)
	}

	data, err := os.ReadFile(input.Path)
	if err != nil {
		return errorResult(fmt.Errorf("read criteria: %w", err))
	}

	err = criteria.ValidateDocument(data)
	if err != nil {
		return errorResult(err)
	}

	tree, err := criteria.DecodeTree(data)
	if err != nil {
		return errorResult(err)
	}

	dest := s.criteriaPath(criteria.NormalizeID(tree.Name))

	outcome, err := s.coordinator.SaveCriteria(ctx, dest, tree)
	if err != nil {
		return errorResult(err)
	}

	return jsonResult(map[string]any{
		"criteria":            outcome.CriteriaID,
		"fingerprint":         outcome.Fingerprint.Short(),
		"changed":             outcome.Changed,
		"sessions_stopped":    outcome.SessionsStopped,
		"stores_deleted":      outcome.StoresDeleted,
		"checkpoints_deleted": outcome.CheckpointsDeleted,
		"seeds_exported":      outcome.Export.SeedsExported,
	})
}

func (s *Server) handleCriteriaFingerprint(
	_ context.Context,
	_ *mcpsdk.CallToolRequest,
	input CriteriaPathInput,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if input.Path == "" {
		return errorResult(ErrEmptyPath)
	}

	tree, err := criteria.LoadTree(input.Path)
	if err != nil {
		return errorResult(err)
	}

	fp, matches, err := s.coordinator.CheckFingerprint(tree)
	if err != nil {
		return errorResult(err)
	}

	return jsonResult(map[string]any{
		"criteria":         criteria.NormalizeID(tree.Name),
		"fingerprint":      string(fp),
		"matches_baseline": matches,
		"would_invalidate": !matches,
	})
}

func (s *Server) criteriaPath(id string) string {
	return filepath.Join(s.criteriaDir, id+".yaml")
}

// Result helpers.

// errorResult builds a CallToolResult with isError set.
func errorResult(err error) (*mcpsdk.CallToolResult, ToolOutput, error) {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: err.Error()},
		},
		IsError: true,
	}, ToolOutput{}, nil
}

// jsonResult builds a CallToolResult with JSON-encoded content.
func jsonResult(value any) (*mcpsdk.CallToolResult, ToolOutput, error) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return errorResult(fmt.Errorf("encode result: %w", err))
	}

	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: string(data)},
		},
	}, ToolOutput{Data: value}, nil
}

func defaultString(value, fallback string) string {
	if value == "" {
		return fallback
	}

	return value
}
