package filter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventhub/internal/model"
)

func at(value string) time.Time {
	t, err := time.ParseInLocation("2006-01-02T15:04", value, time.UTC)
	if err != nil {
		panic(err)
	}
	return t
}

func ids(events []model.Event) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.ID)
	}
	return out
}

func sampleSnapshot() *model.Snapshot {
	return &model.Snapshot{Events: []model.Event{
		{ID: "1", Title: "Tech Conference 2024", OccursAt: at("2024-12-15T09:00")},
		{ID: "2", Title: "Music Festival", OccursAt: at("2024-12-20T18:00")},
		{ID: "3", Title: "Food & Wine Expo", OccursAt: at("2024-12-25T12:00")},
		{ID: "4", Title: "Art Gallery Opening", OccursAt: at("2024-12-10T19:00")},
		{ID: "5", Title: "Startup Pitch Night", OccursAt: at("2024-12-08T18:30")},
		{ID: "6", Title: "Winter Music Night", OccursAt: at("2024-11-30T20:00")},
		{ID: "7", Title: "Broken Record", OccursAt: time.Time{}},
	}}
}

func TestApplyBuckets(t *testing.T) {
	t.Parallel()

	now := at("2024-12-15T00:00")

	tests := []struct {
		name   string
		query  Query
		expect []string
	}{
		{
			name:   "all returns everything newest first, invalid last",
			query:  Query{Bucket: All, Now: now},
			expect: []string{"3", "2", "1", "4", "5", "6", "7"},
		},
		{
			name:   "today",
			query:  Query{Bucket: Today, Now: now},
			expect: []string{"1"},
		},
		{
			name:   "current week starting sunday",
			query:  Query{Bucket: CurrentWeek, Now: now},
			expect: []string{"2", "1"},
		},
		{
			name:   "last week",
			query:  Query{Bucket: LastWeek, Now: now},
			expect: []string{"4", "5"},
		},
		{
			name:   "current month",
			query:  Query{Bucket: CurrentMonth, Now: now},
			expect: []string{"3", "2", "1", "4", "5"},
		},
		{
			name:   "last month",
			query:  Query{Bucket: LastMonth, Now: now},
			expect: []string{"6"},
		},
		{
			name:   "query is case insensitive",
			query:  Query{Text: "MUSIC", Bucket: All, Now: now},
			expect: []string{"2", "6"},
		},
		{
			name:   "query and bucket combine",
			query:  Query{Text: "music", Bucket: CurrentMonth, Now: now},
			expect: []string{"2"},
		},
		{
			name:   "unknown bucket behaves like all",
			query:  Query{Text: "tech", Bucket: Bucket("next-year"), Now: now},
			expect: []string{"1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := Apply(sampleSnapshot(), tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.expect, ids(got))
		})
	}
}

func TestApplyEmptyAndNil(t *testing.T) {
	t.Parallel()

	now := at("2024-12-15T00:00")
	for _, b := range Buckets {
		got, err := Apply(&model.Snapshot{}, Query{Text: "x", Bucket: b, Now: now})
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	}

	_, err := Apply(nil, Query{Now: now})
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestApplyIsPureAndDeterministic(t *testing.T) {
	t.Parallel()

	snap := sampleSnapshot()
	before := append([]model.Event(nil), snap.Events...)
	q := Query{Text: "", Bucket: CurrentMonth, Now: at("2024-12-15T10:00")}

	first, err := Apply(snap, q)
	require.NoError(t, err)
	second, err := Apply(snap, q)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, before, snap.Events)
}

func TestApplyOrderingInvariant(t *testing.T) {
	t.Parallel()

	got, err := Apply(sampleSnapshot(), Query{Bucket: All, Now: at("2024-12-15T00:00")})
	require.NoError(t, err)

	for i := 1; i < len(got); i++ {
		prev, cur := got[i-1], got[i]
		if !cur.HasValidTime() {
			continue
		}
		require.True(t, prev.HasValidTime())
		assert.False(t, prev.OccursAt.Before(cur.OccursAt), "%s before %s", prev.ID, cur.ID)
	}
}

func TestSortIsStableForTies(t *testing.T) {
	t.Parallel()

	same := at("2024-12-15T09:00")
	events := []model.Event{
		{ID: "a", OccursAt: same},
		{ID: "b"},
		{ID: "c", OccursAt: same},
		{ID: "d"},
		{ID: "e", OccursAt: same.Add(time.Minute)},
	}
	Sort(events)
	assert.Equal(t, []string{"e", "a", "c", "b", "d"}, ids(events))
}

func TestTodayMatchesSameCalendarDay(t *testing.T) {
	t.Parallel()

	now := at("2024-03-10T13:45")
	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	snap := &model.Snapshot{Events: []model.Event{
		{ID: "start", OccursAt: day},
		{ID: "end", OccursAt: day.Add(24*time.Hour - time.Nanosecond)},
		{ID: "before", OccursAt: day.Add(-time.Nanosecond)},
		{ID: "after", OccursAt: day.Add(24 * time.Hour)},
	}}

	got, err := Apply(snap, Query{Bucket: Today, Now: now})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"start", "end"}, ids(got))
}

func TestRangeBoundaries(t *testing.T) {
	t.Parallel()

	now := at("2024-01-03T08:00") // Wednesday
	end := func(y int, m time.Month, d int) time.Time {
		return time.Date(y, m, d, 23, 59, 59, int(time.Second-time.Nanosecond), time.UTC)
	}
	start := func(y int, m time.Month, d int) time.Time {
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}

	tests := []struct {
		name   string
		engine Engine
		bucket Bucket
		expect Range
	}{
		{"sunday week", Engine{}, CurrentWeek, Range{start(2023, 12, 31), end(2024, 1, 6)}},
		{"sunday last week", Engine{}, LastWeek, Range{start(2023, 12, 24), end(2023, 12, 30)}},
		{"monday week", Engine{WeekStart: time.Monday}, CurrentWeek, Range{start(2024, 1, 1), end(2024, 1, 7)}},
		{"current month", Engine{}, CurrentMonth, Range{start(2024, 1, 1), end(2024, 1, 31)}},
		{"last month crosses year", Engine{}, LastMonth, Range{start(2023, 12, 1), end(2023, 12, 31)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r, ok := tt.engine.Range(tt.bucket, now)
			require.True(t, ok)
			assert.True(t, tt.expect.Start.Equal(r.Start), "start %s", r.Start)
			assert.True(t, tt.expect.End.Equal(r.End), "end %s", r.End)
		})
	}

	_, ok := Engine{}.Range(All, now)
	assert.False(t, ok)
}

func TestLastMonthAfterLongMonth(t *testing.T) {
	t.Parallel()

	// March 31st minus one month must still land in February.
	r, ok := Engine{}.Range(LastMonth, at("2024-03-31T12:00"))
	require.True(t, ok)
	assert.Equal(t, time.February, r.Start.Month())
	assert.Equal(t, 29, r.End.Day())
}

func TestParseBucket(t *testing.T) {
	t.Parallel()

	assert.Equal(t, CurrentWeek, ParseBucket(" Current-Week "))
	assert.Equal(t, LastMonth, ParseBucket("last-month"))
	assert.Equal(t, All, ParseBucket(""))
	assert.Equal(t, All, ParseBucket("yesterday"))
}

func TestRangeContainsRejectsZeroTime(t *testing.T) {
	t.Parallel()

	r := Range{Start: time.Time{}, End: at("2030-01-01T00:00")}
	assert.False(t, r.Contains(time.Time{}))
	assert.True(t, r.Contains(at("2024-01-01T00:00")))
}
