package domain

import "time"

// TimeWindow buckets a comment relative to the episode air time. The empty
// value means the thread had no air time to classify against.
type TimeWindow string

const (
	WindowLive    TimeWindow = "live"
	WindowDayOf   TimeWindow = "day_of"
	WindowAfter   TimeWindow = "after"
	WindowOverall TimeWindow = "overall"
)

const (
	liveLeadIn = 15 * time.Minute
	liveSpan   = 3 * time.Hour

	// West-coast broadcasts trail the primary feed by three hours.
	broadcastShift = 3 * time.Hour
)

// TimeWindowFor classifies a comment timestamp against the air time. Both
// the primary air time and its west-coast shifted rebroadcast count as live;
// day-of spans the two calendar days from local midnight of the air date.
func TimeWindowFor(commentAt, airsAt time.Time, loc *time.Location) TimeWindow {
	if airsAt.IsZero() {
		return ""
	}
	if loc == nil {
		loc = time.UTC
	}

	if inLiveWindow(commentAt, airsAt) || inLiveWindow(commentAt, airsAt.Add(broadcastShift)) {
		return WindowLive
	}

	if inAirDays(commentAt, airsAt, loc) || inAirDays(commentAt, airsAt.Add(broadcastShift), loc) {
		return WindowDayOf
	}

	return WindowAfter
}

func inLiveWindow(t, airsAt time.Time) bool {
	start := airsAt.Add(-liveLeadIn)
	end := airsAt.Add(liveSpan)

	return !t.Before(start) && !t.After(end)
}

func inAirDays(t, airsAt time.Time, loc *time.Location) bool {
	local := airsAt.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	end := midnight.AddDate(0, 0, 2)

	lt := t.In(loc)

	return !lt.Before(midnight) && lt.Before(end)
}
