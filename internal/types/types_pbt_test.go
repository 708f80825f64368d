package types

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property: every known specific chain belongs to exactly one family
func TestSpecificChainFamilyProperty(t *testing.T) {
	all := make([]interface{}, 0, len(EVMChains)+1)
	for _, c := range EVMChains {
		all = append(all, c)
	}
	all = append(all, ChainSolana)

	properties := gopter.NewProperties(nil)

	properties.Property("known chains resolve to evm or svm", prop.ForAll(
		func(c SpecificChain) bool {
			f := c.Family()
			return c.IsKnown() && (f == BlockchainEVM) != (f == BlockchainSVM)
		},
		gen.OneConstOf(all...).Map(func(v interface{}) SpecificChain { return v.(SpecificChain) }),
	))

	properties.TestingRun(t)
}
