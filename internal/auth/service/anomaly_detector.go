package service

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/wardenlabs/warden/config"
	"github.com/wardenlabs/warden/internal/auth/domain"
	"github.com/wardenlabs/warden/internal/auth/dto"
)

// Point weights for the additive deviation score.
const (
	scoreIPChange    = 20
	scoreUAChange    = 15
	scoreGeoDistance = 25
	scoreRequestRate = 10
)

// AnomalyDetector derives a deterministic device fingerprint per request and
// scores how far a request context has drifted from the one recorded at
// session creation. Scoring never blocks a request; callers log and flag.
type AnomalyDetector struct {
	policy config.AnomalyPolicy
	logger *slog.Logger

	mu       sync.Mutex
	activity map[string][]time.Time // sessionID -> request times in the rate window
	now      func() time.Time
}

func NewAnomalyDetector(policy config.AnomalyPolicy, logger *slog.Logger) *AnomalyDetector {
	return &AnomalyDetector{
		policy:   policy,
		logger:   logger,
		activity: make(map[string][]time.Time),
		now:      time.Now,
	}
}

// Fingerprint hashes a fixed tuple of request signals. Identical input yields
// an identical fingerprint.
func (d *AnomalyDetector) Fingerprint(rc dto.RequestContext) string {
	tuple := strings.Join([]string{
		rc.UserAgent,
		rc.AcceptLanguage,
		rc.AcceptEncoding,
		rc.Platform,
		rc.Timezone,
		rc.ScreenMetrics,
	}, "\x1f")
	sum := sha256.Sum256([]byte(tuple))
	return hex.EncodeToString(sum[:])
}

// Score accumulates deviation points for the request against the session's
// recorded context and returns the triggered reasons. A result at or above
// the policy threshold is anomalous; it is logged, never enforced here.
func (d *AnomalyDetector) Score(session *domain.Session, rc dto.RequestContext) (int, []string) {
	score := 0
	var reasons []string

	if session.IPAddress != "" && rc.IPAddress != "" && session.IPAddress != rc.IPAddress {
		score += scoreIPChange
		reasons = append(reasons, "ip_change")
	}
	if session.UserAgent != "" && rc.UserAgent != "" && session.UserAgent != rc.UserAgent {
		score += scoreUAChange
		reasons = append(reasons, "user_agent_change")
	}
	if rc.HasGeo && session.HasGeo {
		if dist := haversineKm(session.Latitude, session.Longitude, rc.Latitude, rc.Longitude); dist > d.policy.GeoThresholdKm {
			score += scoreGeoDistance
			reasons = append(reasons, "geo_distance")
		}
	}
	if d.rateExceeded(session.ID) {
		score += scoreRequestRate
		reasons = append(reasons, "high_request_rate")
	}

	if score >= d.policy.ScoreThreshold {
		d.logger.Warn("anomalous session activity",
			"session_id", session.ID, "score", score, "reasons", reasons)
	}
	return score, reasons
}

// rateExceeded records one request for the session and reports whether the
// trailing-window request count exceeds the policy threshold.
func (d *AnomalyDetector) rateExceeded(sessionID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	cutoff := now.Add(-d.policy.RateWindow)
	times := d.activity[sessionID]
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	d.activity[sessionID] = kept
	return len(kept) > d.policy.RateThreshold
}

// Forget drops rate-tracking state for an invalidated session.
func (d *AnomalyDetector) Forget(sessionID string) {
	d.mu.Lock()
	delete(d.activity, sessionID)
	d.mu.Unlock()
}

// PruneIdle clears rate windows with no recent activity.
func (d *AnomalyDetector) PruneIdle() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := d.now().Add(-d.policy.RateWindow)
	removed := 0
	for id, times := range d.activity {
		if len(times) == 0 || !times[len(times)-1].After(cutoff) {
			delete(d.activity, id)
			removed++
		}
	}
	return removed
}

// haversineKm returns the great-circle distance between two coordinates in
// kilometers.
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371.0
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}
