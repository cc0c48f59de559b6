package contacts

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"occasio/internal/domain"
	"occasio/pkg/logx"
)

const sampleCards = `BEGIN:VCARD
VERSION:4.0
FN:Sarah Connor
EMAIL:sarah@example.com
TEL:+15550001
TEL:+15550002
CATEGORIES:friends,running
BDAY:1985-07-09
NOTE:Met at the gym
END:VCARD
BEGIN:VCARD
VERSION:4.0
N:Reese;Kyle;;;
TEL:+15550003
ANNIVERSARY:20140620
CATEGORIES:work
END:VCARD
BEGIN:VCARD
VERSION:4.0
FN:No Year
BDAY:--02-29
END:VCARD
`

func TestImport(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, time.August, 30, 12, 0, 0, 0, time.UTC)
	res, err := Import(strings.NewReader(sampleCards), now, logx.Nop())
	require.NoError(t, err)
	require.Len(t, res.Contacts, 3)
	assert.Equal(t, 0, res.Skipped)

	sarah := res.Contacts[0]
	assert.NotEmpty(t, sarah.ID)
	assert.Equal(t, "Sarah Connor", sarah.Name)
	assert.Equal(t, "sarah@example.com", sarah.Email)
	assert.Equal(t, "Met at the gym", sarah.Notes)
	assert.Equal(t, domain.CategoryFriends, sarah.Category)
	require.Len(t, sarah.Channels, 2)
	assert.Equal(t, domain.Channel{Type: domain.ChannelSMS, Address: "+15550001"}, sarah.Channels[0])
	assert.Equal(t, domain.ChannelSMS, sarah.Preferred)
	require.NotNil(t, sarah.Birthday)
	assert.Equal(t, time.Date(1985, time.July, 9, 0, 0, 0, 0, time.UTC), *sarah.Birthday)
	assert.True(t, sarah.RemindersEnabled)
	assert.Equal(t, now, sarah.CreatedAt)

	// No FN: the structured N field supplies the name.
	kyle := res.Contacts[1]
	assert.Equal(t, "Reese Kyle", kyle.Name)
	assert.Equal(t, domain.CategoryWork, kyle.Category)
	require.NotNil(t, kyle.Anniversary)
	assert.Equal(t, time.Date(2014, time.June, 20, 0, 0, 0, 0, time.UTC), *kyle.Anniversary)

	// Truncated date lands on the leap-year placeholder so Feb 29 survives.
	noYear := res.Contacts[2]
	require.NotNil(t, noYear.Birthday)
	assert.Equal(t, time.Date(2000, time.February, 29, 0, 0, 0, 0, time.UTC), *noYear.Birthday)
}

func TestImportSkipsNamelessCards(t *testing.T) {
	t.Parallel()
	const cards = `BEGIN:VCARD
VERSION:4.0
TEL:+15550001
END:VCARD
BEGIN:VCARD
VERSION:4.0
FN:Valid One
END:VCARD
`
	res, err := Import(strings.NewReader(cards), time.Now(), logx.Nop())
	require.NoError(t, err)
	require.Len(t, res.Contacts, 1)
	assert.Equal(t, "Valid One", res.Contacts[0].Name)
	assert.Equal(t, 1, res.Skipped)
}

func TestImportAllBroken(t *testing.T) {
	t.Parallel()
	const cards = `BEGIN:VCARD
VERSION:4.0
TEL:+15550001
END:VCARD
`
	res, err := Import(strings.NewReader(cards), time.Now(), logx.Nop())
	require.Error(t, err)
	assert.Equal(t, 1, res.Skipped)
}

func TestImportEmptyStream(t *testing.T) {
	t.Parallel()
	res, err := Import(strings.NewReader(""), time.Now(), logx.Nop())
	require.NoError(t, err)
	assert.Empty(t, res.Contacts)
	assert.Zero(t, res.Skipped)
}

func TestMapCategory(t *testing.T) {
	t.Parallel()
	cases := []struct {
		raw  string
		want domain.ContactCategory
	}{
		{"family", domain.CategoryFamily},
		{"Friend", domain.CategoryFriends},
		{"colleagues", domain.CategoryWork},
		{"running,work", domain.CategoryWork},
		{"book club", domain.CategoryOther},
		{"", domain.CategoryOther},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, mapCategory(tc.raw), tc.raw)
	}
}

func TestParseCardDate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		value     string
		want      time.Time
		yearKnown bool
		wantErr   bool
	}{
		{"1985-07-09", time.Date(1985, 7, 9, 0, 0, 0, 0, time.UTC), true, false},
		{"19850709", time.Date(1985, 7, 9, 0, 0, 0, 0, time.UTC), true, false},
		{"1985-07-09T08:30:00Z", time.Date(1985, 7, 9, 0, 0, 0, 0, time.UTC), true, false},
		{"--12-24", time.Date(2000, 12, 24, 0, 0, 0, 0, time.UTC), false, false},
		{"--1224", time.Date(2000, 12, 24, 0, 0, 0, 0, time.UTC), false, false},
		{"yesterday", time.Time{}, false, true},
	}
	for _, tc := range cases {
		got, yearKnown, err := parseCardDate(tc.value)
		if tc.wantErr {
			assert.Error(t, err, tc.value)
			continue
		}
		require.NoError(t, err, tc.value)
		assert.True(t, got.Equal(tc.want), "%s: got %s", tc.value, got)
		assert.Equal(t, tc.yearKnown, yearKnown, tc.value)
	}
}
