package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/trading-arena/internal/cache"
	"github.com/trading-arena/internal/config"
	"github.com/trading-arena/internal/models"
	"github.com/trading-arena/internal/storage"
	"github.com/trading-arena/internal/types"
	"github.com/trading-arena/internal/worker"
)

const (
	usdcAddr = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
	wethAddr = "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"
	memeAddr = "0x1111111111111111111111111111111111111111"
	dustAddr = "0x2222222222222222222222222222222222222222"
	solAddr  = "So11111111111111111111111111111111111111112"
)

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

func f64(v float64) *float64 { return &v }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// memDB is an in-memory stand-in for the Postgres repositories with the same conflict semantics
type memDB struct {
	mu sync.Mutex

	competitions   map[string]*models.Competition
	constraints    map[string]*models.TradingConstraints
	leaderboards   map[string][]*models.LeaderboardEntry
	agents         map[string]*models.Agent
	participations map[string]map[string]*models.CompetitionParticipation
	ranks          map[string]*models.AgentRank
	balances       map[string]map[string]*models.Balance
	trades         []*models.Trade
	snapshots      []*models.PortfolioSnapshot
	summaries      map[string]*models.PerpsAccountSummary
	risk           map[string]*models.RiskMetrics
	alerts         []*models.SelfFundingAlert

	finalizeWrites  int
	constraintReads int
	// finalizeGate, when set, blocks Finalize until closed
	finalizeGate chan struct{}
}

func newMemDB() *memDB {
	return &memDB{
		competitions:   make(map[string]*models.Competition),
		constraints:    make(map[string]*models.TradingConstraints),
		leaderboards:   make(map[string][]*models.LeaderboardEntry),
		agents:         make(map[string]*models.Agent),
		participations: make(map[string]map[string]*models.CompetitionParticipation),
		ranks:          make(map[string]*models.AgentRank),
		balances:       make(map[string]map[string]*models.Balance),
		summaries:      make(map[string]*models.PerpsAccountSummary),
		risk:           make(map[string]*models.RiskMetrics),
	}
}

func balanceKey(agentID, competitionID string) string { return agentID + "|" + competitionID }

func (db *memDB) addCompetition(c *models.Competition) {
	db.mu.Lock()
	defer db.mu.Unlock()
	cp := *c
	db.competitions[c.ID] = &cp
}

func (db *memDB) addAgent(id, owner string, wallet *string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.agents[id] = &models.Agent{ID: id, OwnerID: owner, Name: "agent " + id, WalletAddress: wallet, Status: "active"}
}

func (db *memDB) setParticipation(competitionID, agentID string, status types.ParticipationStatus) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.participations[competitionID] == nil {
		db.participations[competitionID] = make(map[string]*models.CompetitionParticipation)
	}
	db.participations[competitionID][agentID] = &models.CompetitionParticipation{
		CompetitionID: competitionID, AgentID: agentID, Status: status,
	}
}

func (db *memDB) setBalance(agentID, competitionID, token, symbol string, amount decimal.Decimal) {
	db.mu.Lock()
	defer db.mu.Unlock()
	key := balanceKey(agentID, competitionID)
	if db.balances[key] == nil {
		db.balances[key] = make(map[string]*models.Balance)
	}
	db.balances[key][token] = &models.Balance{
		AgentID: agentID, CompetitionID: competitionID, TokenAddress: token, Symbol: symbol,
		Amount: amount, SpecificChain: types.ChainEthereum,
	}
}

func (db *memDB) balance(agentID, competitionID, token string) decimal.Decimal {
	db.mu.Lock()
	defer db.mu.Unlock()
	if b, ok := db.balances[balanceKey(agentID, competitionID)][token]; ok {
		return b.Amount
	}
	return decimal.Zero
}

func (db *memDB) status(id string) types.CompetitionStatus {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.competitions[id].Status
}

// competition repository

type memCompetitions struct{ db *memDB }

func (r memCompetitions) GetByID(_ context.Context, id string) (*models.Competition, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c, ok := r.db.competitions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r memCompetitions) GetActive(_ context.Context) (*models.Competition, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, c := range r.db.competitions {
		if c.Status == types.CompetitionStatusActive {
			cp := *c
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (r memCompetitions) ListDueToEnd(_ context.Context, now time.Time) ([]*models.Competition, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*models.Competition
	for _, c := range r.db.competitions {
		if c.Status == types.CompetitionStatusActive && c.EndDate != nil && !c.EndDate.After(now) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memCompetitions) ListDueToStart(_ context.Context, now time.Time) ([]*models.Competition, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*models.Competition
	for _, c := range r.db.competitions {
		if c.Status == types.CompetitionStatusPending && c.StartDate != nil && !c.StartDate.After(now) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(*out[j].StartDate) })
	return out, nil
}

func (r memCompetitions) transitionLocked(id string, from, to types.CompetitionStatus) (*models.Competition, error) {
	c, ok := r.db.competitions[id]
	if !ok || c.Status != from {
		return nil, storage.ErrTransitionLost
	}
	if to == types.CompetitionStatusActive {
		for _, other := range r.db.competitions {
			if other.ID != id && other.Status == types.CompetitionStatusActive {
				return nil, storage.ErrActiveCompetitionExists
			}
		}
		now := testStart
		c.StartDate = &now
	}
	c.Status = to
	cp := *c
	return &cp, nil
}

func (r memCompetitions) Transition(_ context.Context, id string, from, to types.CompetitionStatus) (*models.Competition, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return r.transitionLocked(id, from, to)
}

func (r memCompetitions) Finalize(_ context.Context, in storage.FinalizeInput) (*models.Competition, error) {
	if r.db.finalizeGate != nil {
		<-r.db.finalizeGate
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c, err := r.transitionLocked(in.CompetitionID, types.CompetitionStatusEnding, types.CompetitionStatusEnded)
	if err != nil {
		return nil, err
	}
	r.db.finalizeWrites++
	stored := make([]*models.LeaderboardEntry, len(in.Entries))
	for i, e := range in.Entries {
		cp := *e
		stored[i] = &cp
	}
	r.db.leaderboards[in.CompetitionID] = stored
	for _, rk := range in.Ranks {
		cp := *rk
		r.db.ranks[rk.AgentID] = &cp
	}
	return c, nil
}

func (r memCompetitions) GetLeaderboard(_ context.Context, competitionID string) ([]*models.LeaderboardEntry, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return r.db.leaderboards[competitionID], nil
}

func (r memCompetitions) GetConstraints(_ context.Context, competitionID string) (*models.TradingConstraints, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.constraintReads++
	tc, ok := r.db.constraints[competitionID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *tc
	return &cp, nil
}

func (r memCompetitions) UpsertConstraints(_ context.Context, tc *models.TradingConstraints) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	cp := *tc
	r.db.constraints[tc.CompetitionID] = &cp
	return nil
}

// agent repository

type memAgents struct{ db *memDB }

func (r memAgents) GetByID(_ context.Context, id string) (*models.Agent, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	a, ok := r.db.agents[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r memAgents) GetByIDs(_ context.Context, ids []string) ([]*models.Agent, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*models.Agent
	for _, id := range ids {
		if a, ok := r.db.agents[id]; ok {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r memAgents) GetParticipation(_ context.Context, competitionID, agentID string) (*models.CompetitionParticipation, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p, ok := r.db.participations[competitionID][agentID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r memAgents) ListParticipants(_ context.Context, competitionID string, status *types.ParticipationStatus) ([]*models.CompetitionParticipation, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*models.CompetitionParticipation
	for _, p := range r.db.participations[competitionID] {
		if status == nil || p.Status == *status {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out, nil
}

func (r memAgents) AddParticipant(_ context.Context, competitionID, agentID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c, ok := r.db.competitions[competitionID]
	if !ok {
		return storage.ErrNotFound
	}
	parts := r.db.participations[competitionID]
	if parts == nil {
		parts = make(map[string]*models.CompetitionParticipation)
		r.db.participations[competitionID] = parts
	}
	if p, ok := parts[agentID]; ok && p.Status == types.ParticipationActive {
		return storage.ErrAlreadyParticipating
	}
	me := r.db.agents[agentID]
	active := 0
	for _, p := range parts {
		if p.Status != types.ParticipationActive {
			continue
		}
		active++
		if other := r.db.agents[p.AgentID]; me != nil && other != nil && other.OwnerID == me.OwnerID {
			return storage.ErrOwnerAlreadyParticipating
		}
	}
	if c.MaxParticipants != nil && active >= *c.MaxParticipants {
		return storage.ErrParticipantLimit
	}
	parts[agentID] = &models.CompetitionParticipation{CompetitionID: competitionID, AgentID: agentID, Status: types.ParticipationActive}
	return nil
}

func (r memAgents) UpdateParticipationStatus(_ context.Context, competitionID, agentID string, status types.ParticipationStatus, reason *string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p, ok := r.db.participations[competitionID][agentID]
	if !ok {
		return storage.ErrNotFound
	}
	p.Status = status
	p.DeactivationReason = nil
	if status != types.ParticipationActive {
		p.DeactivationReason = reason
	}
	return nil
}

func (r memAgents) GetRanks(_ context.Context, agentIDs []string) (map[string]*models.AgentRank, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := make(map[string]*models.AgentRank)
	for _, id := range agentIDs {
		if rk, ok := r.db.ranks[id]; ok {
			cp := *rk
			out[id] = &cp
		}
	}
	return out, nil
}

// trade repository

type memTrades struct{ db *memDB }

func (r memTrades) GetBalance(_ context.Context, agentID, competitionID, token string) (decimal.Decimal, error) {
	return r.db.balance(agentID, competitionID, token), nil
}

func (r memTrades) GetBalances(_ context.Context, agentID, competitionID string) ([]*models.Balance, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*models.Balance
	for _, b := range r.db.balances[balanceKey(agentID, competitionID)] {
		cp := *b
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenAddress < out[j].TokenAddress })
	return out, nil
}

func (r memTrades) GetCompetitionBalances(ctx context.Context, competitionID string, agentIDs []string) ([]*models.Balance, error) {
	var out []*models.Balance
	for _, id := range agentIDs {
		bs, _ := r.GetBalances(ctx, id, competitionID)
		out = append(out, bs...)
	}
	return out, nil
}

func (r memTrades) ResetBalances(_ context.Context, agentID, competitionID string, allocation []*models.Balance) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	m := make(map[string]*models.Balance)
	for _, b := range allocation {
		cp := *b
		m[b.TokenAddress] = &cp
	}
	r.db.balances[balanceKey(agentID, competitionID)] = m
	return nil
}

func (r memTrades) CommitTrade(_ context.Context, trade *models.Trade, to storage.TokenMeta) (*models.TradeResult, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	key := balanceKey(trade.AgentID, trade.CompetitionID)
	held := r.db.balances[key]
	from, ok := held[trade.FromToken]
	if !ok || from.Amount.LessThan(trade.FromAmount) {
		return nil, storage.ErrInsufficientBalance
	}
	from.Amount = from.Amount.Sub(trade.FromAmount)
	result := &models.TradeResult{Trade: trade, FromTokenBalance: from.Amount}
	if !trade.IsBurn() {
		dest, ok := held[trade.ToToken]
		if !ok {
			dest = &models.Balance{AgentID: trade.AgentID, CompetitionID: trade.CompetitionID, TokenAddress: trade.ToToken,
				Symbol: to.Symbol, SpecificChain: to.SpecificChain}
			held[trade.ToToken] = dest
		}
		dest.Amount = dest.Amount.Add(trade.ToAmount)
		result.ToTokenBalance = dest.Amount
	}
	r.db.trades = append(r.db.trades, trade)
	return result, nil
}

// snapshot repository

type memSnapshots struct{ db *memDB }

func (r memSnapshots) CreateBatch(_ context.Context, snapshots []*models.PortfolioSnapshot) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, s := range snapshots {
		cp := *s
		r.db.snapshots = append(r.db.snapshots, &cp)
	}
	return nil
}

func (r memSnapshots) series(competitionID, agentID string) []*models.PortfolioSnapshot {
	var out []*models.PortfolioSnapshot
	for _, s := range r.db.snapshots {
		if s.CompetitionID == competitionID && s.AgentID == agentID {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func (r memSnapshots) LatestPerAgent(_ context.Context, competitionID string) ([]*models.PortfolioSnapshot, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	latest := make(map[string]*models.PortfolioSnapshot)
	for _, s := range r.db.snapshots {
		if s.CompetitionID != competitionID {
			continue
		}
		if cur, ok := latest[s.AgentID]; !ok || !s.Timestamp.Before(cur.Timestamp) {
			latest[s.AgentID] = s
		}
	}
	var out []*models.PortfolioSnapshot
	for _, s := range latest {
		out = append(out, s)
	}
	return out, nil
}

func (r memSnapshots) ListByAgent(_ context.Context, competitionID, agentID string) ([]*models.PortfolioSnapshot, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return r.series(competitionID, agentID), nil
}

func (r memSnapshots) BulkAgentMetrics(_ context.Context, competitionID string, agentIDs []string, _ time.Time) ([]*models.AgentMetrics, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*models.AgentMetrics
	for _, id := range agentIDs {
		s := r.series(competitionID, id)
		if len(s) == 0 {
			continue
		}
		first, last := s[0].TotalValue, s[len(s)-1].TotalValue
		out = append(out, &models.AgentMetrics{AgentID: id, StartingValue: first, CurrentValue: last, Pnl: last.Sub(first)})
	}
	return out, nil
}

// perps repository

type memPerps struct{ db *memDB }

func (r memPerps) UpsertAccountSummaries(_ context.Context, summaries []*models.PerpsAccountSummary) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, s := range summaries {
		cp := *s
		r.db.summaries[s.CompetitionID+"|"+s.AgentID] = &cp
	}
	return nil
}

func (r memPerps) UpsertRiskMetrics(_ context.Context, m *models.RiskMetrics) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	cp := *m
	r.db.risk[m.CompetitionID+"|"+m.AgentID] = &cp
	return nil
}

// GetRiskAdjustedLeaderboard mirrors the ORDER BY of the SQL view
func (r memPerps) GetRiskAdjustedLeaderboard(_ context.Context, competitionID string, metric types.EvaluationMetric) ([]*models.LeaderboardEntry, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var entries []*models.LeaderboardEntry
	for agentID, p := range r.db.participations[competitionID] {
		if p.Status != types.ParticipationActive {
			continue
		}
		e := &models.LeaderboardEntry{AgentID: agentID, Active: true}
		if s, ok := r.db.summaries[competitionID+"|"+agentID]; ok {
			e.Value = s.TotalEquity
			e.Pnl = s.TotalPnl
			e.StartingValue = s.InitialCapital
		}
		if m, ok := r.db.risk[competitionID+"|"+agentID]; ok {
			e.HasRiskMetrics = true
			e.CalmarRatio = m.CalmarRatio
			e.SortinoRatio = m.SortinoRatio
			e.SimpleReturn = f64(m.SimpleReturn)
			e.MaxDrawdown = f64(m.MaxDrawdown)
			e.DownsideDeviation = f64(m.DownsideDeviation)
		}
		if a, ok := r.db.agents[agentID]; ok {
			e.AgentName = a.Name
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		mi, mj := metricValue(entries[i], metric), metricValue(entries[j], metric)
		if (mi == nil) != (mj == nil) {
			return mi != nil
		}
		if mi != nil && *mi != *mj {
			return *mi > *mj
		}
		if c := entries[i].Value.Cmp(entries[j].Value); c != 0 {
			return c > 0
		}
		return entries[i].AgentID < entries[j].AgentID
	})
	assignRanks(entries)
	return entries, nil
}

// alert repository

type memAlerts struct{ db *memDB }

func (r memAlerts) CreateBatch(_ context.Context, alerts []*models.SelfFundingAlert) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.alerts = append(r.db.alerts, alerts...)
	return nil
}

func (r memAlerts) AgentsWithUnreviewedAlerts(_ context.Context, competitionID string, agentIDs []string) (map[string]bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	wanted := make(map[string]bool, len(agentIDs))
	for _, id := range agentIDs {
		wanted[id] = true
	}
	out := make(map[string]bool)
	for _, a := range r.db.alerts {
		if a.CompetitionID == competitionID && !a.Reviewed && wanted[a.AgentID] {
			out[a.AgentID] = true
		}
	}
	return out, nil
}

type memTransfers struct {
	mu   sync.Mutex
	rows []*models.Transfer
}

func (r *memTransfers) InsertBatch(_ context.Context, transfers []*models.Transfer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, transfers...)
	return nil
}

// collaborators

type fakeOracle struct {
	mu     sync.Mutex
	quotes map[string]*models.PriceQuote
	calls  int
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{quotes: make(map[string]*models.PriceQuote)}
}

func (o *fakeOracle) set(q *models.PriceQuote) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if q.SpecificChain == "" {
		q.SpecificChain = types.ChainEthereum
	}
	q.Chain = q.SpecificChain.Family()
	o.quotes[q.Token] = q
}

func (o *fakeOracle) GetPrice(_ context.Context, token string, chain types.SpecificChain) (*models.PriceQuote, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	q, ok := o.quotes[token]
	if !ok || (chain != "" && q.SpecificChain != chain) {
		return nil, nil
	}
	cp := *q
	return &cp, nil
}

func (o *fakeOracle) GetBulkPrices(_ context.Context, tokens []string) (map[string]*models.PriceQuote, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	out := make(map[string]*models.PriceQuote)
	for _, t := range tokens {
		if q, ok := o.quotes[t]; ok {
			cp := *q
			out[t] = &cp
		}
	}
	return out, nil
}

type fakePerpsProvider struct {
	mu          sync.Mutex
	accounts    map[string]*models.PerpsAccount
	failures    map[string]error
	transfers   map[string][]*models.Transfer
	transferErr error
}

func newFakePerpsProvider() *fakePerpsProvider {
	return &fakePerpsProvider{
		accounts:  make(map[string]*models.PerpsAccount),
		failures:  make(map[string]error),
		transfers: make(map[string][]*models.Transfer),
	}
}

func (p *fakePerpsProvider) GetAccountSummary(_ context.Context, wallet string) (*models.PerpsAccount, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failures[wallet]; err != nil {
		return nil, err
	}
	a, ok := p.accounts[wallet]
	if !ok {
		return nil, errors.New("account not found")
	}
	cp := *a
	return &cp, nil
}

func (p *fakePerpsProvider) GetTransferHistory(_ context.Context, wallet string, _ time.Time) ([]*models.Transfer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.transferErr != nil {
		return nil, p.transferErr
	}
	var out []*models.Transfer
	for _, t := range p.transfers[wallet] {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

// summaryOnlyProvider hides the transfer history capability
type summaryOnlyProvider struct{ inner *fakePerpsProvider }

func (p summaryOnlyProvider) GetAccountSummary(ctx context.Context, wallet string) (*models.PerpsAccount, error) {
	return p.inner.GetAccountSummary(ctx, wallet)
}

type fakeStakes map[string]decimal.Decimal

func (f fakeStakes) GetStake(_ context.Context, wallet string) (decimal.Decimal, error) {
	return f[wallet], nil
}

func testTradingConfig() config.TradingConfig {
	return config.TradingConfig{
		MaxTradePercentage: decimal.NewFromInt(25),
		MinTradeAmount:     dec("0.000001"),
		DefaultEVMChain:    "eth",
		DefaultSVMChain:    "svm",
		InitialBalances: []config.InitialBalance{
			{SpecificChain: "eth", TokenAddress: usdcAddr, Symbol: "USDC", Amount: decimal.NewFromInt(5000)},
		},
		StablecoinSymbols: []string{"USDC", "USDT", "DAI"},
		MajorTokenSymbols: []string{"WETH", "WBTC", "SOL"},
	}
}

func testSelfFundingConfig() config.SelfFundingConfig {
	return config.SelfFundingConfig{
		ReconciliationThreshold: decimal.NewFromInt(10),
		CriticalAmount:          decimal.NewFromInt(500),
		TransferCriticalAmount:  decimal.NewFromInt(1000),
	}
}

// harness wires every service over memDB
type harness struct {
	db        *memDB
	oracle    *fakeOracle
	perps     *fakePerpsProvider
	transfers *memTransfers

	constraints *ConstraintProvider
	portfolio   *PortfolioService
	engine      *TradeEngine
	snapshots   *SnapshotService
	leaderboard *LeaderboardService
	monitor     *SelfFundingMonitor
	sync        *PerpsSyncService
	lifecycle   *CompetitionService
}

func newHarness() *harness {
	db := newMemDB()
	h := &harness{
		db:        db,
		oracle:    newFakeOracle(),
		perps:     newFakePerpsProvider(),
		transfers: &memTransfers{},
	}
	pool := worker.NewPool(4)
	cfg := testTradingConfig()
	competitions := memCompetitions{db}
	agents := memAgents{db}
	trades := memTrades{db}
	snapshots := memSnapshots{db}

	h.constraints = NewConstraintProvider(competitions, cache.NewMemory(), time.Minute, config.TradingConstraintDefaults{})
	h.portfolio = NewPortfolioService(trades, h.oracle, cache.NewMemory(), time.Minute)
	h.engine = NewTradeEngine(TradeEngineDeps{
		Competitions:   competitions,
		Participations: agents,
		Trades:         trades,
		Prices:         h.oracle,
		Portfolio:      h.portfolio,
		Constraints:    h.constraints,
	}, cfg)
	h.engine.SetRandomSource(func() float64 { return 0.5 })
	h.engine.now = fixedClock(testStart.Add(time.Hour))

	h.snapshots = NewSnapshotService(competitions, agents, snapshots, h.portfolio)
	h.leaderboard = NewLeaderboardService(LeaderboardDeps{
		Competitions: competitions,
		Participants: agents,
		Persisted:    competitions,
		Perps:        memPerps{db},
		Snapshots:    snapshots,
		Valuer:       h.portfolio,
		Agents:       agents,
	}, types.MetricCalmarRatio)
	h.monitor = NewSelfFundingMonitor(h.perps, memAlerts{db}, h.transfers, pool, testSelfFundingConfig())
	h.sync = NewPerpsSyncService(agents, agents, h.perps, memPerps{db}, snapshots, h.monitor, pool)
	h.lifecycle = NewCompetitionService(CompetitionDeps{
		Competitions: competitions,
		Participants: agents,
		Balances:     trades,
		Constraints:  h.constraints,
		Snapshots:    h.snapshots,
		PerpsSync:    h.sync,
		Leaderboard:  h.leaderboard,
		Portfolio:    h.portfolio,
		Pool:         pool,
	}, cfg)
	h.lifecycle.now = fixedClock(testStart)

	h.oracle.set(&models.PriceQuote{Token: usdcAddr, Symbol: "USDC", Price: decimal.NewFromInt(1)})
	h.oracle.set(&models.PriceQuote{Token: wethAddr, Symbol: "WETH", Price: decimal.NewFromInt(2000)})
	return h
}

// activeSpot creates an active spot competition with one active participant
func (h *harness) activeSpot(competitionID, agentID string) {
	h.db.addCompetition(&models.Competition{
		ID: competitionID, Name: competitionID, Type: types.CompetitionTypeTrading,
		Status: types.CompetitionStatusActive, CrossChainTradingType: types.CrossChainAllowAll,
	})
	h.db.addAgent(agentID, "owner-"+agentID, nil)
	h.db.setParticipation(competitionID, agentID, types.ParticipationActive)
}
