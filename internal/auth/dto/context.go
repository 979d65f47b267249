package dto

// RequestContext carries the client signals the anomaly detector fingerprints
// and scores. Screen metrics, platform, and timezone arrive via headers set by
// the front-end bootstrap script; the rest come from the request itself.
type RequestContext struct {
	IPAddress      string
	UserAgent      string
	AcceptLanguage string
	AcceptEncoding string
	Platform       string
	Timezone       string
	ScreenMetrics  string
	Latitude       float64
	Longitude      float64
	HasGeo         bool
}
