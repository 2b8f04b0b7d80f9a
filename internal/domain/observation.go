package domain

import "time"

// Source tags the detection channel that produced an Observation.
type Source string

const (
	SourceLocal Source = "local"
	SourceOSINT Source = "osint"
)

const (
	LocalObservationTTL = 365 * 24 * time.Hour
	OSINTObservationTTL = 90 * 24 * time.Hour
)

// TTL returns the retention applied to observations of this source.
func (s Source) TTL() time.Duration {
	if s == SourceLocal {
		return LocalObservationTTL
	}
	return OSINTObservationTTL
}

// Observation records that an address was seen by a detection source. It is
// stored as JSON under the source's key namespace.
type Observation struct {
	Address   string    `json:"address"`
	Source    Source    `json:"source"`
	Feed      string    `json:"feed,omitempty"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}
