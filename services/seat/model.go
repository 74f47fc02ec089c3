package seat

import (
	"errors"
	"time"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSeatsExhausted  = errors.New("all seats are in use")
)

// EndReason records why a seat stopped being active.
type EndReason string

const (
	EndReasonReleased   EndReason = "normal_release"
	EndReasonStale      EndReason = "stale_reclamation"
	EndReasonForced     EndReason = "force_terminated"
	EndReasonSuperseded EndReason = "superseded"
)

// Seat is one active (or historical) lease on a license. A row is mutated
// only by heartbeats and by a single, irreversible termination.
type Seat struct {
	ID                  string     `gorm:"column:id;primaryKey;size:32"`
	LicenseID           string     `gorm:"column:license_id;size:64;index:idx_seats_license_active,priority:1"`
	SessionToken        string     `gorm:"column:session_token;size:64;uniqueIndex"`
	HardwareFingerprint string     `gorm:"column:hardware_fingerprint;size:256;index"`
	MachineName         string     `gorm:"column:machine_name"`
	StaleTimeoutSeconds int64      `gorm:"column:stale_timeout_seconds"`
	StartedAt           time.Time  `gorm:"column:started_at"`
	LastHeartbeat       time.Time  `gorm:"column:last_heartbeat"`
	IsActive            bool       `gorm:"column:is_active;index:idx_seats_license_active,priority:2"`
	EndedAt             *time.Time `gorm:"column:ended_at"`
	EndReason           EndReason  `gorm:"column:end_reason;size:32"`
	TerminatedBy        string     `gorm:"column:terminated_by"`
}

func (Seat) TableName() string {
	return "seats"
}

func (s *Seat) StaleTimeout() time.Duration {
	return time.Duration(s.StaleTimeoutSeconds) * time.Second
}

// IsStale reports whether the holder stopped heart-beating more than timeout
// before now.
func (s *Seat) IsStale(now time.Time, timeout time.Duration) bool {
	return s.LastHeartbeat.Before(now.Add(-timeout))
}

// ActiveSession is the public view of a seat. It never carries the token.
type ActiveSession struct {
	SeatID        string    `json:"seatId"`
	MachineName   string    `json:"machineName"`
	StartedAt     time.Time `json:"startedAt"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
}

func (s *Seat) View() ActiveSession {
	return ActiveSession{
		SeatID:        s.ID,
		MachineName:   s.MachineName,
		StartedAt:     s.StartedAt,
		LastHeartbeat: s.LastHeartbeat,
	}
}

func views(seats []Seat) []ActiveSession {
	out := make([]ActiveSession, 0, len(seats))
	for i := range seats {
		out = append(out, seats[i].View())
	}
	return out
}

type AcquireRequest struct {
	LicenseID           string
	HardwareFingerprint string
	MachineName         string
	// StaleTimeout overrides the configured staleness threshold; zero uses
	// the default.
	StaleTimeout time.Duration
	// MaxSeats overrides the license quota; zero derives it from the license.
	MaxSeats int
}

type AcquireResult struct {
	SeatID         string `json:"seatId"`
	SessionToken   string `json:"sessionToken"`
	Resumed        bool   `json:"resumed"`
	SeatsUsed      int    `json:"seatsUsed"`
	SeatsAvailable int    `json:"seatsAvailable"`
	MaxSeats       int    `json:"maxSeats"`
	Reclaimed      int    `json:"reclaimed"`
}

// Denial is attached to the conflict error returned when every seat is held.
// SeatsUsed is the caller's own usage and is therefore zero.
type Denial struct {
	SeatsUsed      int             `json:"seatsUsed"`
	MaxSeats       int             `json:"maxSeats"`
	ActiveSessions []ActiveSession `json:"activeSessions"`
}

type HeartbeatResult struct {
	Valid           bool       `json:"valid"`
	Reason          string     `json:"reason,omitempty"`
	SeatsUsed       int        `json:"seatsUsed"`
	MaxSeats        int        `json:"maxSeats"`
	ExpiresAt       *time.Time `json:"expiresAt,omitempty"`
	TimeUntilExpiry *int64     `json:"timeUntilExpirySeconds,omitempty"`
	LeaseTimeout    int64      `json:"leaseTimeoutSeconds"`
}

type ReleaseResult struct {
	Released bool `json:"released"`
}

type ForceTerminateRequest struct {
	LicenseID           string
	HardwareFingerprint string
	MachineName         string
	// SeatID targets one seat from a conflict listing; empty evicts the least
	// recently seen seat not held by the requesting device.
	SeatID string
}

type ForceTerminateResult struct {
	Terminated *ActiveSession `json:"terminated,omitempty"`
}

type StatusResult struct {
	LicenseID      string          `json:"licenseId"`
	Valid          bool            `json:"valid"`
	Reason         string          `json:"reason,omitempty"`
	MaxSeats       int             `json:"maxSeats"`
	SeatsUsed      int             `json:"seatsUsed"`
	SeatsAvailable int             `json:"seatsAvailable"`
	ActiveSessions []ActiveSession `json:"activeSessions"`
}
