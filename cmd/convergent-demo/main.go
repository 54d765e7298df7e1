// Command convergent-demo wires up a standalone Engine and walks it
// through one end-to-end coordination cycle: two agents publish
// overlapping intents, one reads the other's stigmergy trail via
// EnrichPrompt, and a forced conflict is escalated to a consensus vote.
// It is a wiring demonstration, not a product CLI.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/convergent-dev/convergent"
	"github.com/convergent-dev/convergent/internal/model"
)

func main() {
	os.Exit(run0())
}

func run0() int {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		logger.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	eng, err := convergent.New(
		convergent.WithLogger(logger),
		convergent.WithDomain("demo"),
		convergent.WithDBPath(os.TempDir()+"/convergent-demo"),
	)
	if err != nil {
		return fmt.Errorf("new engine: %w", err)
	}

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := eng.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}()

	now := time.Now()

	a := model.Intent{
		IntentID:      "intent-a",
		AgentID:       "agent-alpha",
		Description:   "switch the HTTP client to exponential backoff retries",
		Category:      model.CategoryDecision,
		Interfaces:    []model.InterfaceSpec{{Name: "HTTPClient.Do", Kind: model.KindMethod, Signature: "Do(req *Request) *Response"}},
		FilesAffected: []string{"internal/client/http.go"},
		CreatedAt:     now,
	}
	if err := eng.PublishIntent(ctx, a); err != nil {
		return fmt.Errorf("publish intent-a: %w", err)
	}

	b := model.Intent{
		IntentID:      "intent-b",
		AgentID:       "agent-beta",
		Description:   "replace the HTTP client with a circuit-breaker wrapper",
		Category:      model.CategoryDecision,
		Interfaces:    []model.InterfaceSpec{{Name: "HTTPClient.Do", Kind: model.KindMethod, Signature: "Do(req *Request) *BreakerResponse"}},
		FilesAffected: []string{"internal/client/http.go"},
		CreatedAt:     now.Add(time.Second),
	}
	if err := eng.PublishIntent(ctx, b); err != nil {
		return fmt.Errorf("publish intent-b: %w", err)
	}

	if _, err := eng.LeaveMarker(model.StigmergyMarker{
		MarkerID:  "marker-1",
		AgentID:   "agent-alpha",
		Type:      model.MarkerFileModified,
		Target:    "internal/client/http.go",
		Content:   "mid-refactor: retry policy not yet wired into the connection pool",
		CreatedAt: now,
	}, 1.0); err != nil {
		return fmt.Errorf("leave marker: %w", err)
	}

	enrichment := eng.EnrichPrompt("agent-beta", []string{"internal/client/http.go"})
	logger.Info("prompt enrichment for agent-beta",
		"stigmergy_context", enrichment.StigmergyContext,
		"alignment_advisories", enrichment.AlignmentAdvisories,
		"separation_advisories", enrichment.SeparationAdvisories,
	)

	conflicts, err := eng.FindConflicting(ctx, "intent-b")
	if err != nil {
		return fmt.Errorf("find conflicting: %w", err)
	}
	logger.Info("conflicts detected against intent-b", "count", len(conflicts))

	if len(conflicts) == 0 {
		logger.Info("no conflicts detected; nothing to escalate")
		return nil
	}

	requestID := "consensus-" + a.IntentID + "-" + b.IntentID
	if err := eng.RequestConsensus(model.ConsensusRequest{
		RequestID: requestID,
		TaskID:    "demo-task",
		Question:  "should agent-beta's circuit-breaker wrapper replace agent-alpha's retry change?",
		Context:   b.Description,
		Quorum:    model.QuorumMajority,
		Timeout:   5 * time.Minute,
		CreatedAt: now,
	}); err != nil {
		return fmt.Errorf("request consensus: %w", err)
	}

	for _, vote := range []model.Vote{
		{RequestID: requestID, AgentID: "agent-alpha", Choice: model.ChoiceReject, Confidence: 0.6, CastAt: now},
		{RequestID: requestID, AgentID: "agent-beta", Choice: model.ChoiceApprove, Confidence: 0.8, CastAt: now},
		{RequestID: requestID, AgentID: "agent-gamma", Choice: model.ChoiceApprove, Confidence: 0.7, CastAt: now},
	} {
		if err := eng.SubmitVote(ctx, vote); err != nil {
			return fmt.Errorf("submit vote from %s: %w", vote.AgentID, err)
		}
	}

	decision, err := eng.Evaluate(requestID)
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	logger.Info("consensus decision",
		"request_id", requestID,
		"outcome", decision.Outcome,
		"approve_weight", decision.ApproveWeight,
		"reject_weight", decision.RejectWeight,
	)

	return nil
}
