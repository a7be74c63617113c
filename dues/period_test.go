package dues_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/quarter-dues/dues"
)

func TestParsePeriod(t *testing.T) {
	p, err := dues.ParsePeriod("2025-04")
	require.NoError(t, err)
	assert.Equal(t, 2025, p.Year)
	assert.Equal(t, time.April, p.Month)
	assert.Equal(t, "2025-04", p.String())

	for _, bad := range []string{"", "2025-4", "2025-13", "25-04", "2025/04", "2025-04-01", "abcd-ef"} {
		_, err := dues.ParsePeriod(bad)
		assert.ErrorIsf(t, err, dues.ErrInvalidPeriod, "input %q", bad)
	}
}

func TestPeriod_OrderingMatchesTokenOrder(t *testing.T) {
	tokens := []string{"2024-12", "2025-01", "2025-02", "2025-10", "2025-11"}
	for i := 0; i < len(tokens)-1; i++ {
		a, b := dues.MustParsePeriod(tokens[i]), dues.MustParsePeriod(tokens[i+1])
		assert.True(t, a.Before(b), "%s before %s", a, b)
		assert.True(t, tokens[i] < tokens[i+1])
		assert.Equal(t, 1, b.Compare(a))
	}
	assert.Equal(t, 0, dues.MustParsePeriod("2025-03").Compare(dues.NewPeriod(2025, time.March)))
}

func TestPeriod_NextPrevious(t *testing.T) {
	assert.Equal(t, "2025-01", dues.MustParsePeriod("2024-12").Next().String())
	assert.Equal(t, "2024-12", dues.MustParsePeriod("2025-01").Previous().String())
	assert.Equal(t, "2025-03", dues.PeriodOf(time.Date(2025, 3, 31, 23, 0, 0, 0, time.UTC)).String())
}

func TestPeriod_JSON(t *testing.T) {
	type payload struct {
		Month dues.Period  `json:"month"`
		Last  *dues.Period `json:"last"`
	}

	b, err := json.Marshal(payload{Month: dues.MustParsePeriod("2025-05")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"month":"2025-05","last":null}`, string(b))

	var decoded payload
	require.NoError(t, json.Unmarshal([]byte(`{"month":"2025-06","last":"2025-04"}`), &decoded))
	assert.Equal(t, "2025-06", decoded.Month.String())
	assert.Equal(t, "2025-04", decoded.Last.String())

	assert.Error(t, json.Unmarshal([]byte(`{"month":"June"}`), &decoded))
}
