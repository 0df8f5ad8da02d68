package utils

import (
	"time"
)

// IST is the Indian Standard Time location (UTC+5:30).
var IST *time.Location

func init() {
	var err error
	IST, err = time.LoadLocation("Asia/Kolkata")
	if err != nil {
		// Fallback: create fixed zone if tz database is not available
		IST = time.FixedZone("IST", 5*60*60+30*60)
	}
}

// NowIST returns the current time in IST.
func NowIST() time.Time {
	return time.Now().In(IST)
}

// ToIST converts a time.Time to IST.
func ToIST(t time.Time) time.Time {
	return t.In(IST)
}

// FormatDateIST formats a time.Time to "2006-01-02" in IST.
func FormatDateIST(t time.Time) string {
	return t.In(IST).Format("2006-01-02")
}

// FormatDateTimeIST formats a time.Time to "2006-01-02 15:04:05 IST".
func FormatDateTimeIST(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.In(IST).Format("2006-01-02 15:04:05 IST")
}

// StartOfDayIST returns midnight IST of the day containing t.
func StartOfDayIST(t time.Time) time.Time {
	d := t.In(IST)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, IST)
}

// Age returns how long ago t was relative to now, never negative.
// Future timestamps (clock skew in feeds) count as age zero.
func Age(now, t time.Time) time.Duration {
	if t.After(now) {
		return 0
	}
	return now.Sub(t)
}
