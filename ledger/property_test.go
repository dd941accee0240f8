package ledger

import (
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestPaginationProperties checks that concatenating every page of any size
// yields the full newest-first list, and that the page after the last one
// fails with ErrNoMoreRecords.
func TestPaginationProperties(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 100
	properties := gopter.NewProperties(params)

	properties.Property("pages concatenate to the full list", prop.ForAll(
		func(total, size int) bool {
			records := buildChain(total)
			var joined []Greeting
			page := 1
			for {
				p, err := paginate(records, page, size)
				if errors.Is(err, ErrNoMoreRecords) {
					break
				}
				if err != nil || len(p.Records) == 0 || len(p.Records) > size {
					return false
				}
				joined = append(joined, p.Records...)
				page++
			}
			if len(joined) != total {
				return false
			}
			for i, g := range joined {
				if g.ID != uint64(total-i) {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 60),
		gen.IntRange(1, 15),
	))

	properties.Property("has more is false only on the last page", prop.ForAll(
		func(total, size int) bool {
			records := buildChain(total)
			pages := (total + size - 1) / size
			for page := 1; page <= pages; page++ {
				p, err := paginate(records, page, size)
				if err != nil || p.HasMore != (page < pages) {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 60),
		gen.IntRange(1, 15),
	))

	properties.Property("reward payouts never exceed the fund", prop.ForAll(
		func(n int, seed uint64) bool {
			cfg := testConfig("0.001", "0.01", 0, 50)
			cfg.Seed = seed
			st := NewState(cfg)
			for i := 0; i < n; i++ {
				applySubmit(st, cfg, Blake2xbDraw, "0x01", "", "gm", buildChain(1)[0].Timestamp)
				if st.Balance.IsNegative() {
					return false
				}
			}
			return len(st.Payouts) <= 10
		},
		gen.IntRange(0, 40),
		gen.UInt64(),
	))

	properties.TestingRun(t)
}
