package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIDAcceptsNumbersAndStrings(t *testing.T) {
	var rows []struct {
		ID ID `json:"id"`
	}
	require.NoError(t, json.Unmarshal([]byte(`[{"id":42},{"id":"43"},{"id":null}]`), &rows))
	require.Equal(t, ID("42"), rows[0].ID)
	require.Equal(t, ID("43"), rows[1].ID)
	require.Equal(t, ID(""), rows[2].ID)

	n, err := rows[0].ID.Int()
	require.NoError(t, err)
	require.EqualValues(t, 42, n)
}

func TestWorkDescriptionResolvesKeySpellings(t *testing.T) {
	var descs []WorkDescription
	payload := `[
		{"desc_id": 1, "desc_name": "Plastering", "site_id": 9},
		{"work_desc_id": "2", "work_desc_name": "Painting"},
		{"id": 3, "name": "Tiling"}
	]`
	require.NoError(t, json.Unmarshal([]byte(payload), &descs))
	require.Equal(t, []WorkDescription{
		{ID: "1", Name: "Plastering", SiteID: "9"},
		{ID: "2", Name: "Painting"},
		{ID: "3", Name: "Tiling"},
	}, descs)
}

func TestSiteLabelIncludesPONumber(t *testing.T) {
	require.Equal(t, "Site A (PO: 7781)", Site{Name: "Site A", PONumber: "7781"}.Label())
	require.Equal(t, "Site B", Site{Name: "Site B"}.Label())
}

func TestDateRoundTripsAsCalendarDay(t *testing.T) {
	d, err := ParseDate("2024-01-01")
	require.NoError(t, err)
	require.Equal(t, "2024-01-01", d.String())
	require.True(t, d.Equal(NewDate(2024, time.January, 1)))
	require.True(t, d.Before(d.AddDays(1)))

	var parsed struct {
		At Date `json:"at"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"at":"2024-03-05T10:06:00"}`), &parsed))
	require.Equal(t, "2024-03-05", parsed.At.String())

	_, err = ParseDate("05/03/2024")
	require.Error(t, err)
}

func TestAcknowledgementQuantityPrefersComponentA(t *testing.T) {
	var ack Acknowledgement
	require.NoError(t, json.Unmarshal([]byte(`{"comp_a_qty":null,"comp_b_qty":"12.5","comp_b_remarks":"short"}`), &ack))
	require.True(t, ack.Acknowledged())
	q, ok := ack.Quantity()
	require.True(t, ok)
	require.Equal(t, "12.5", q.String())
	require.Equal(t, "short", ack.Remarks())

	var empty *Acknowledgement
	require.False(t, empty.Acknowledged())
}
