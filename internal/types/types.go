// Package types provides common type definitions for the competition engine.
package types

// CompetitionType represents the kind of competition being run
type CompetitionType string

const (
	// CompetitionTypeTrading is a spot paper-trading competition backed by internal balances
	CompetitionTypeTrading CompetitionType = "trading"
	// CompetitionTypePerpetualFutures sources equity from an external derivatives account
	CompetitionTypePerpetualFutures CompetitionType = "perpetual_futures"
)

// CompetitionStatus represents the lifecycle state of a competition
type CompetitionStatus string

const (
	// CompetitionStatusPending is a created competition that has not started
	CompetitionStatusPending CompetitionStatus = "pending"
	// CompetitionStatusActive is a running competition accepting trades
	CompetitionStatusActive CompetitionStatus = "active"
	// CompetitionStatusEnding is the checkpoint between active and ended
	CompetitionStatusEnding CompetitionStatus = "ending"
	// CompetitionStatusEnded is a finished competition with a frozen leaderboard
	CompetitionStatusEnded CompetitionStatus = "ended"
)

// CrossChainTradingType controls which token pairs may be traded across chains
type CrossChainTradingType string

const (
	// CrossChainAllowAll imposes no chain constraint
	CrossChainAllowAll CrossChainTradingType = "allowAll"
	// CrossChainDisallowXParent requires both tokens to share a blockchain family
	CrossChainDisallowXParent CrossChainTradingType = "disallowXParent"
	// CrossChainDisallowAll requires both tokens to share a specific chain
	CrossChainDisallowAll CrossChainTradingType = "disallowAll"
)

// ParticipationStatus represents an agent's status inside one competition
type ParticipationStatus string

const (
	// ParticipationActive is a participant that can trade and is ranked
	ParticipationActive ParticipationStatus = "active"
	// ParticipationWithdrawn is a participant that left voluntarily
	ParticipationWithdrawn ParticipationStatus = "withdrawn"
	// ParticipationDisqualified is a participant removed by an administrator or a rule
	ParticipationDisqualified ParticipationStatus = "disqualified"
)

// EvaluationMetric is the risk-adjusted metric used to rank perps competitions
type EvaluationMetric string

const (
	// MetricCalmarRatio ranks by annualized return over max drawdown
	MetricCalmarRatio EvaluationMetric = "calmar_ratio"
	// MetricSortinoRatio ranks by return over downside deviation
	MetricSortinoRatio EvaluationMetric = "sortino_ratio"
	// MetricSimpleReturn ranks by plain return on starting equity
	MetricSimpleReturn EvaluationMetric = "simple_return"
)

// Valid reports whether the metric is one of the supported values
func (m EvaluationMetric) Valid() bool {
	switch m {
	case MetricCalmarRatio, MetricSortinoRatio, MetricSimpleReturn:
		return true
	}
	return false
}

// BlockchainType is a blockchain family
type BlockchainType string

const (
	// BlockchainEVM covers Ethereum-compatible chains
	BlockchainEVM BlockchainType = "evm"
	// BlockchainSVM covers Solana
	BlockchainSVM BlockchainType = "svm"
)

// SpecificChain is a concrete network inside a blockchain family
type SpecificChain string

const (
	ChainEthereum  SpecificChain = "eth"
	ChainPolygon   SpecificChain = "polygon"
	ChainBSC       SpecificChain = "bsc"
	ChainArbitrum  SpecificChain = "arbitrum"
	ChainOptimism  SpecificChain = "optimism"
	ChainAvalanche SpecificChain = "avalanche"
	ChainBase      SpecificChain = "base"
	ChainLinea     SpecificChain = "linea"
	ChainZkSync    SpecificChain = "zksync"
	ChainScroll    SpecificChain = "scroll"
	ChainMantle    SpecificChain = "mantle"
	ChainSolana    SpecificChain = "svm"
)

// EVMChains lists the specific chains that belong to the EVM family
var EVMChains = []SpecificChain{
	ChainEthereum, ChainPolygon, ChainBSC, ChainArbitrum, ChainOptimism,
	ChainAvalanche, ChainBase, ChainLinea, ChainZkSync, ChainScroll, ChainMantle,
}

// Family returns the blockchain family a specific chain belongs to
func (c SpecificChain) Family() BlockchainType {
	if c == ChainSolana {
		return BlockchainSVM
	}
	return BlockchainEVM
}

// IsKnown reports whether the chain is supported
func (c SpecificChain) IsKnown() bool {
	if c == ChainSolana {
		return true
	}
	for _, evm := range EVMChains {
		if evm == c {
			return true
		}
	}
	return false
}

// DetectionMethod names the detector that raised a self-funding alert
type DetectionMethod string

const (
	// DetectionTransferHistory flags deposits or withdrawals after competition start
	DetectionTransferHistory DetectionMethod = "transfer_history"
	// DetectionBalanceReconciliation flags equity not explained by PnL
	DetectionBalanceReconciliation DetectionMethod = "balance_reconciliation"
)

// AlertConfidence is how certain a detector is about a violation
type AlertConfidence string

const (
	ConfidenceHigh   AlertConfidence = "high"
	ConfidenceMedium AlertConfidence = "medium"
	ConfidenceLow    AlertConfidence = "low"
)

// AlertSeverity is how serious a detected violation is
type AlertSeverity string

const (
	SeverityCritical AlertSeverity = "critical"
	SeverityWarning  AlertSeverity = "warning"
)

// TransferType is the direction of an external account transfer
type TransferType string

const (
	TransferDeposit  TransferType = "deposit"
	TransferWithdraw TransferType = "withdraw"
)

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
