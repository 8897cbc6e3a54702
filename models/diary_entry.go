package models

import "time"

// DiaryEntry is one night of a participant's sleep diary. Notes is free
// text written by the participant and is encrypted at rest as PHI.
type DiaryEntry struct {
	Entity

	UserID    int64     `json:"user_id"`
	EntryDate time.Time `json:"entry_date"`

	// Minutes-based sleep metrics as reported in the morning entry.
	SleepOnsetMinutes int `json:"sleep_onset_minutes"`
	NightAwakenings   int `json:"night_awakenings"`
	TotalSleepMinutes int `json:"total_sleep_minutes"`
	TimeInBedMinutes  int `json:"time_in_bed_minutes"`

	// SleepQuality is the participant's subjective 1..5 rating.
	SleepQuality int `json:"sleep_quality"`

	Notes string `json:"notes,omitempty"`
}

// SleepEfficiency returns total sleep time as a fraction of time in bed,
// the core metric of sleep-restriction therapy. Returns 0 when the entry
// has no time-in-bed figure.
func (d *DiaryEntry) SleepEfficiency() float64 {
	if d.TimeInBedMinutes <= 0 {
		return 0
	}
	return float64(d.TotalSleepMinutes) / float64(d.TimeInBedMinutes)
}
