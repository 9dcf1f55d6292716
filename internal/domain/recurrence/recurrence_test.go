package recurrence

import (
	"testing"
	"time"

	"github.com/garyjia/invoice-engine/internal/domain/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 9, 0, 0, 0, time.UTC)
}

func schedule(freq entity.Frequency, interval int, start time.Time) *entity.RecurringSchedule {
	return &entity.RecurringSchedule{
		Frequency: freq,
		Interval:  interval,
		StartDate: start,
		Status:    entity.ScheduleStatusActive,
	}
}

func intPtr(v int) *int { return &v }

func TestNext_Frequencies(t *testing.T) {
	tests := []struct {
		name  string
		s     *entity.RecurringSchedule
		after time.Time
		want  time.Time
	}{
		{"daily", schedule(entity.FrequencyDaily, 1, date(2026, 3, 1)), date(2026, 3, 1), date(2026, 3, 2)},
		{"every three days", schedule(entity.FrequencyDaily, 3, date(2026, 3, 1)), date(2026, 3, 1), date(2026, 3, 4)},
		{"daily late runner", schedule(entity.FrequencyDaily, 1, date(2026, 3, 1)), date(2026, 3, 5).Add(2 * time.Hour), date(2026, 3, 6)},
		// 2026-03-04 is a Wednesday
		{"weekly keeps weekday", schedule(entity.FrequencyWeekly, 1, date(2026, 3, 4)), date(2026, 3, 6), date(2026, 3, 11)},
		{"biweekly", schedule(entity.FrequencyWeekly, 2, date(2026, 3, 4)), date(2026, 3, 4), date(2026, 3, 18)},
		{"monthly", schedule(entity.FrequencyMonthly, 1, date(2026, 1, 15)), date(2026, 1, 15), date(2026, 2, 15)},
		{"quarterly", schedule(entity.FrequencyMonthly, 3, date(2026, 1, 15)), date(2026, 1, 15), date(2026, 4, 15)},
		{"yearly", schedule(entity.FrequencyYearly, 1, date(2026, 6, 1)), date(2026, 6, 1), date(2027, 6, 1)},
		{"before start returns start", schedule(entity.FrequencyMonthly, 1, date(2026, 5, 1)), date(2026, 1, 1), date(2026, 5, 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Next(tt.s, tt.after)
			require.NotNil(t, got)
			assert.True(t, tt.want.Equal(*got), "want %s, got %s", tt.want, *got)
		})
	}
}

func TestNext_MonthEndClamp(t *testing.T) {
	tests := []struct {
		name  string
		start time.Time
		want  []time.Time
	}{
		{
			name:  "non-leap year",
			start: date(2026, 1, 31),
			want:  []time.Time{date(2026, 2, 28), date(2026, 3, 31), date(2026, 4, 30), date(2026, 5, 31)},
		},
		{
			name:  "leap year",
			start: date(2028, 1, 31),
			want:  []time.Time{date(2028, 2, 29), date(2028, 3, 31), date(2028, 4, 30)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := schedule(entity.FrequencyMonthly, 1, tt.start)
			after := tt.start
			for _, want := range tt.want {
				got := Next(s, after)
				require.NotNil(t, got)
				assert.True(t, want.Equal(*got), "want %s, got %s", want, *got)
				after = *got
			}
		})
	}
}

func TestNext_LeapDayYearly(t *testing.T) {
	s := schedule(entity.FrequencyYearly, 1, date(2028, 2, 29))

	want := []time.Time{date(2029, 2, 28), date(2030, 2, 28), date(2031, 2, 28), date(2032, 2, 29)}
	after := s.StartDate
	for _, w := range want {
		got := Next(s, after)
		require.NotNil(t, got)
		assert.True(t, w.Equal(*got), "want %s, got %s", w, *got)
		after = *got
	}
}

func TestNext_Exhaustion(t *testing.T) {
	s := schedule(entity.FrequencyMonthly, 1, date(2026, 1, 1))
	s.MaxOccurrences = intPtr(3)

	generated := 0
	after := s.StartDate
	for {
		s.OccurrencesGenerated++
		generated++
		next := Next(s, after)
		if next == nil {
			break
		}
		after = *next
		require.Less(t, generated, 10, "schedule never exhausted")
	}

	assert.Equal(t, 3, generated)
	assert.Nil(t, Next(s, after))
	assert.Nil(t, Next(s, after.AddDate(1, 0, 0)))
}

func TestNext_EndDateInclusive(t *testing.T) {
	s := schedule(entity.FrequencyDaily, 1, date(2026, 3, 1))
	end := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
	s.EndDate = &end

	got := Next(s, date(2026, 3, 2))
	require.NotNil(t, got)
	assert.True(t, date(2026, 3, 3).Equal(*got))

	assert.Nil(t, Next(s, date(2026, 3, 3)))
}

func TestNext_PureAndAdvancing(t *testing.T) {
	freqs := []entity.Frequency{entity.FrequencyDaily, entity.FrequencyWeekly, entity.FrequencyMonthly, entity.FrequencyYearly}

	for _, freq := range freqs {
		t.Run(string(freq), func(t *testing.T) {
			s := schedule(freq, 2, date(2024, 1, 31))
			after := s.StartDate
			for i := 0; i < 40; i++ {
				first := Next(s, after)
				second := Next(s, after)
				require.NotNil(t, first)
				require.NotNil(t, second)
				assert.True(t, first.Equal(*second))
				assert.True(t, first.After(after))
				after = *first
			}
			assert.Equal(t, 0, s.OccurrencesGenerated)
		})
	}
}

func TestFirstAndUpcoming(t *testing.T) {
	s := schedule(entity.FrequencyMonthly, 1, date(2026, 1, 31))

	first := First(s)
	require.NotNil(t, first)
	assert.True(t, s.StartDate.Equal(*first))
	assert.True(t, first.Equal(*Upcoming(s)))

	last := date(2026, 2, 28)
	s.LastRunAt = &last
	s.OccurrencesGenerated = 2
	up := Upcoming(s)
	require.NotNil(t, up)
	assert.True(t, date(2026, 3, 31).Equal(*up))

	s.MaxOccurrences = intPtr(2)
	assert.Nil(t, Upcoming(s))
}

func TestPreview(t *testing.T) {
	s := schedule(entity.FrequencyMonthly, 1, date(2026, 1, 31))
	s.MaxOccurrences = intPtr(3)
	s.NextRunAt = First(s)

	runs := Preview(s, 5)
	require.Len(t, runs, 3)
	assert.True(t, date(2026, 1, 31).Equal(runs[0]))
	assert.True(t, date(2026, 2, 28).Equal(runs[1]))
	assert.True(t, date(2026, 3, 31).Equal(runs[2]))

	s.OccurrencesGenerated = 2
	runs = Preview(s, 5)
	require.Len(t, runs, 1, "only one occurrence left")

	s.OccurrencesGenerated = 3
	assert.Empty(t, Preview(s, 5))

	s.OccurrencesGenerated = 0
	s.NextRunAt = nil
	assert.Empty(t, Preview(s, 5))
}
