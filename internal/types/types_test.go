package types

import (
	"testing"
)

func TestEvaluationMetricValid(t *testing.T) {
	tests := []struct {
		metric EvaluationMetric
		want   bool
	}{
		{MetricCalmarRatio, true},
		{MetricSortinoRatio, true},
		{MetricSimpleReturn, true},
		{EvaluationMetric("sharpe_ratio"), false},
		{EvaluationMetric(""), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.metric), func(t *testing.T) {
			if got := tt.metric.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSpecificChainFamily(t *testing.T) {
	if ChainSolana.Family() != BlockchainSVM {
		t.Errorf("svm family = %v, want %v", ChainSolana.Family(), BlockchainSVM)
	}
	for _, c := range EVMChains {
		if c.Family() != BlockchainEVM {
			t.Errorf("%s family = %v, want %v", c, c.Family(), BlockchainEVM)
		}
	}
	if SpecificChain("dogechain").IsKnown() {
		t.Error("unknown chain reported as known")
	}
}
