package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/trading-arena/internal/config"
	"github.com/trading-arena/internal/logging"
	"github.com/trading-arena/internal/models"
	"github.com/trading-arena/internal/types"
	"github.com/trading-arena/internal/worker"
)

// AlertStore persists self-funding alerts
type AlertStore interface {
	CreateBatch(ctx context.Context, alerts []*models.SelfFundingAlert) error
	AgentsWithUnreviewedAlerts(ctx context.Context, competitionID string, agentIDs []string) (map[string]bool, error)
}

// TransferAuditStore keeps every observed transfer for audit
type TransferAuditStore interface {
	InsertBatch(ctx context.Context, transfers []*models.Transfer) error
}

// MonitorInput is one monitoring sweep over a perps competition
type MonitorInput struct {
	Agents []*models.Agent
	// Summaries are prefetched account summaries keyed by agent ID; missing agents are fetched
	Summaries     map[string]*models.PerpsAccount
	CompetitionID string
	StartDate     time.Time
	// InitialCapital overrides the provider-reported initial capital when set
	InitialCapital *decimal.Decimal
	// Threshold overrides the configured reconciliation threshold when set
	Threshold *decimal.Decimal
}

// MonitorResult summarizes a monitoring sweep
type MonitorResult struct {
	Successful    int               `json:"successful"`
	Failed        int               `json:"failed"`
	Skipped       int               `json:"skipped"`
	AlertsCreated int               `json:"alertsCreated"`
	Errors        map[string]string `json:"errors,omitempty"`
}

// SelfFundingMonitor detects external capital added to perps accounts during a competition
type SelfFundingMonitor struct {
	provider   PerpsProvider
	alerts     AlertStore
	transfers  TransferAuditStore
	pool       *worker.Pool
	thresholds config.SelfFundingConfig
	now        Clock
}

// NewSelfFundingMonitor creates a monitor; transfers may be nil when no audit store is configured
func NewSelfFundingMonitor(provider PerpsProvider, alerts AlertStore, transfers TransferAuditStore, pool *worker.Pool, thresholds config.SelfFundingConfig) *SelfFundingMonitor {
	return &SelfFundingMonitor{
		provider:   provider,
		alerts:     alerts,
		transfers:  transfers,
		pool:       pool,
		thresholds: thresholds,
		now:        systemClock,
	}
}

type agentCheck struct {
	alerts  []*models.SelfFundingAlert
	skipped bool
}

// MonitorAgents checks every agent independently and stores all alerts in one write.
// Agents with an unreviewed alert are skipped. A failing agent never aborts the sweep.
func (m *SelfFundingMonitor) MonitorAgents(ctx context.Context, in MonitorInput) (*MonitorResult, error) {
	logger := logging.FromContext(ctx).WithField("competitionId", in.CompetitionID)
	result := &MonitorResult{Errors: make(map[string]string)}
	if len(in.Agents) == 0 {
		return result, nil
	}

	ids := make([]string, len(in.Agents))
	for i, a := range in.Agents {
		ids[i] = a.ID
	}
	flagged, err := m.alerts.AgentsWithUnreviewedAlerts(ctx, in.CompetitionID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load unreviewed alerts: %w", err)
	}

	threshold := m.thresholds.ReconciliationThreshold
	if in.Threshold != nil {
		threshold = *in.Threshold
	}

	results := worker.Map(ctx, m.pool, in.Agents, func(ctx context.Context, agent *models.Agent) (agentCheck, error) {
		if flagged[agent.ID] {
			return agentCheck{skipped: true}, nil
		}
		alerts, err := m.checkAgent(ctx, agent, in, threshold)
		return agentCheck{alerts: alerts}, err
	})

	var alerts []*models.SelfFundingAlert
	for _, r := range results {
		switch {
		case r.Err != nil:
			result.Failed++
			result.Errors[r.Item.ID] = r.Err.Error()
			logger.WithField("agentId", r.Item.ID).WithError(r.Err).Warn("Self-funding check failed")
		case r.Value.skipped:
			result.Skipped++
		default:
			result.Successful++
			alerts = append(alerts, r.Value.alerts...)
		}
	}

	if len(alerts) > 0 {
		if err := m.alerts.CreateBatch(ctx, alerts); err != nil {
			return result, fmt.Errorf("failed to store self-funding alerts: %w", err)
		}
		result.AlertsCreated = len(alerts)
	}

	logger.WithFields(map[string]interface{}{
		"successful":    result.Successful,
		"failed":        result.Failed,
		"skipped":       result.Skipped,
		"alertsCreated": result.AlertsCreated,
	}).Info("Self-funding monitoring completed")
	return result, nil
}

func (m *SelfFundingMonitor) checkAgent(ctx context.Context, agent *models.Agent, in MonitorInput, threshold decimal.Decimal) ([]*models.SelfFundingAlert, error) {
	if !agent.HasWallet() {
		return nil, fmt.Errorf("agent %s has no wallet address", agent.ID)
	}
	wallet := *agent.WalletAddress

	summary := in.Summaries[agent.ID]
	if summary == nil {
		var err error
		summary, err = m.provider.GetAccountSummary(ctx, wallet)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch account summary: %w", err)
		}
	}

	var alerts []*models.SelfFundingAlert
	alert, transferred := m.checkTransfers(ctx, agent, wallet, summary, in)
	if alert != nil {
		alerts = append(alerts, alert)
	}
	if alert := m.reconcile(agent, summary, in, threshold, transferred); alert != nil {
		alerts = append(alerts, alert)
	}
	return alerts, nil
}

// checkTransfers flags any deposit or withdrawal after the competition start and
// returns their net amount (deposits minus withdrawals).
// Transfer history is best effort: provider errors are logged and yield no alert.
func (m *SelfFundingMonitor) checkTransfers(ctx context.Context, agent *models.Agent, wallet string, summary *models.PerpsAccount, in MonitorInput) (*models.SelfFundingAlert, decimal.Decimal) {
	history, ok := m.provider.(TransferHistoryProvider)
	if !ok {
		return nil, decimal.Zero
	}
	logger := logging.FromContext(ctx).WithField("agentId", agent.ID)

	transfers, err := history.GetTransferHistory(ctx, wallet, in.StartDate)
	if err != nil {
		logger.WithError(err).Warn("Transfer history unavailable")
		return nil, decimal.Zero
	}
	for _, t := range transfers {
		t.AgentID = agent.ID
		t.CompetitionID = in.CompetitionID
		t.Wallet = wallet
	}
	if m.transfers != nil && len(transfers) > 0 {
		if err := m.transfers.InsertBatch(ctx, transfers); err != nil {
			logger.WithError(err).Warn("Failed to store transfers for audit")
		}
	}

	var violations []map[string]interface{}
	total, net := decimal.Zero, decimal.Zero
	for _, t := range transfers {
		if !t.Timestamp.After(in.StartDate) {
			continue
		}
		total = total.Add(t.Amount)
		if t.Type == types.TransferDeposit {
			net = net.Add(t.Amount)
		} else {
			net = net.Sub(t.Amount)
		}
		violations = append(violations, map[string]interface{}{
			"type":      string(t.Type),
			"amount":    t.Amount.String(),
			"asset":     t.Asset,
			"txHash":    t.TxHash,
			"timestamp": t.Timestamp.Format(time.RFC3339),
		})
	}
	if len(violations) == 0 {
		return nil, decimal.Zero
	}

	severity := types.SeverityWarning
	if total.GreaterThan(m.thresholds.TransferCriticalAmount) {
		severity = types.SeverityCritical
	}
	return &models.SelfFundingAlert{
		AgentID:           agent.ID,
		CompetitionID:     in.CompetitionID,
		ExpectedEquity:    summary.TotalEquity.Sub(net),
		ActualEquity:      summary.TotalEquity,
		UnexplainedAmount: net,
		DetectionMethod:   types.DetectionTransferHistory,
		Confidence:        types.ConfidenceHigh,
		Severity:          severity,
		Evidence: map[string]interface{}{
			"transfers":        violations,
			"transferCount":    len(violations),
			"totalTransferred": total.String(),
			"competitionStart": in.StartDate.Format(time.RFC3339),
		},
		CreatedAt: m.now(),
	}, net
}

// reconcile flags equity that neither the reported PnL nor the already flagged
// transfers explain
func (m *SelfFundingMonitor) reconcile(agent *models.Agent, summary *models.PerpsAccount, in MonitorInput, threshold, transferred decimal.Decimal) *models.SelfFundingAlert {
	initial := summary.InitialCapital
	if in.InitialCapital != nil {
		initial = *in.InitialCapital
	}
	expected := initial.Add(summary.TotalPnl).Add(transferred)
	unexplained := summary.TotalEquity.Sub(expected)
	if unexplained.Abs().LessThanOrEqual(threshold) {
		return nil
	}

	confidence, severity := types.ConfidenceMedium, types.SeverityWarning
	if unexplained.Abs().GreaterThan(m.thresholds.CriticalAmount) {
		confidence, severity = types.ConfidenceHigh, types.SeverityCritical
	}
	return &models.SelfFundingAlert{
		AgentID:           agent.ID,
		CompetitionID:     in.CompetitionID,
		ExpectedEquity:    expected,
		ActualEquity:      summary.TotalEquity,
		UnexplainedAmount: unexplained,
		DetectionMethod:   types.DetectionBalanceReconciliation,
		Confidence:        confidence,
		Severity:          severity,
		Evidence: map[string]interface{}{
			"initialCapital": initial.String(),
			"totalPnl":       summary.TotalPnl.String(),
			"transferred":    transferred.String(),
			"threshold":      threshold.String(),
		},
		CreatedAt: m.now(),
	}
}
