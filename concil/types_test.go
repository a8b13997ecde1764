package concil_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/concil-engine/concil"
)

func TestSignedAmounts(t *testing.T) {
	assert.Equal(t, "-200", debit(1, "200", march(1)).SignedAmount().String())
	assert.Equal(t, "75", credit(1, "75", march(1)).SignedAmount().String())
	assert.Equal(t, "-9.5", line(1, "-9.5", march(1)).SignedAmount().String())
}

func TestParseKind(t *testing.T) {
	for in, want := range map[string]concil.Kind{
		"E":              concil.KindEntry,
		"entry":          concil.KindEntry,
		"B":              concil.KindStatementLine,
		"statement_line": concil.KindStatementLine,
		"bat_line":       concil.KindStatementLine,
	} {
		got, err := concil.ParseKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := concil.ParseKind("Z")
	assert.Error(t, err)
	assert.Equal(t, concil.KindEntry, concil.KindStatementLine.Opposite())
}

func TestMemberString(t *testing.T) {
	assert.Equal(t, "E:12", concil.Member{Kind: concil.KindEntry, ExternalID: 12}.String())
	assert.Equal(t, "B:7", concil.Member{Kind: concil.KindStatementLine, ExternalID: 7}.String())
}

func TestTotalsOf(t *testing.T) {
	removed := credit(3, "1000", march(1))
	removed.Deleted = true

	totals := concil.TotalsOf(items(debit(1, "30", march(1)), line(10, "-20", march(1)), credit(2, "45", march(1)), removed))

	assert.Equal(t, "50", totals.Debit.String())
	assert.Equal(t, "45", totals.Credit.String())
	assert.Equal(t, "-5", totals.Difference().String())
	assert.False(t, totals.Balanced())
}

func TestDate(t *testing.T) {
	d, err := concil.ParseDate("2025-03-12")
	require.NoError(t, err)
	assert.Equal(t, march(12), d)
	assert.Equal(t, march(13), d.AddDays(1))
	assert.True(t, march(1).Before(d))

	empty, err := concil.ParseDate("")
	require.NoError(t, err)
	assert.False(t, empty.IsValid())

	_, err = concil.ParseDate("12/03/2025")
	assert.ErrorIs(t, err, concil.ErrInvalidDate)

	raw, err := json.Marshal(struct{ D, Z concil.Date }{D: d})
	require.NoError(t, err)
	assert.JSONEq(t, `{"D":"2025-03-12","Z":null}`, string(raw))

	var back struct{ D, Z concil.Date }
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, d, back.D)
	assert.False(t, back.Z.IsValid())
}
