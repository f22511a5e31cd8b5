package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealityreport/socializer-backend/internal/domain"
)

func TestTimeWindowFor(t *testing.T) {
	t.Parallel()

	eastern, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	airsAt := time.Date(2024, time.January, 1, 1, 0, 0, 0, time.UTC)

	tt := map[string]struct {
		commentAt time.Time

		want domain.TimeWindow
	}{
		"during broadcast":              {time.Date(2024, time.January, 1, 2, 0, 0, 0, time.UTC), domain.WindowLive},
		"lead-in boundary":              {airsAt.Add(-15 * time.Minute), domain.WindowLive},
		"primary window end":            {airsAt.Add(3 * time.Hour), domain.WindowLive},
		"west coast rebroadcast":        {time.Date(2024, time.January, 1, 4, 30, 0, 0, time.UTC), domain.WindowLive},
		"west coast window end":         {airsAt.Add(6 * time.Hour), domain.WindowLive},
		"same day discussion":           {time.Date(2024, time.January, 1, 15, 0, 0, 0, time.UTC), domain.WindowDayOf},
		"local air date, prior utc day": {time.Date(2023, time.December, 31, 17, 0, 0, 0, time.UTC), domain.WindowDayOf},
		"next local day":                {time.Date(2024, time.January, 2, 3, 0, 0, 0, time.UTC), domain.WindowDayOf},
		"two days later":                {time.Date(2024, time.January, 3, 1, 0, 0, 0, time.UTC), domain.WindowAfter},
		"weeks later":                   {airsAt.AddDate(0, 0, 20), domain.WindowAfter},
	}

	for scenario, tc := range tt {
		tc := tc
		t.Run(scenario, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.want, domain.TimeWindowFor(tc.commentAt, airsAt, eastern))
		})
	}
}

func TestTimeWindowForWithoutAirTime(t *testing.T) {
	t.Parallel()

	got := domain.TimeWindowFor(time.Now(), time.Time{}, time.UTC)

	assert.Equal(t, domain.TimeWindow(""), got)
}
