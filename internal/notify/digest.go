// Package notify delivers change digests over the configured channel.
// Email goes out over SMTP with transport negotiation driven by the stored
// settings; webhook targets receive a feed-card payload. Every delivery
// attempt, successful or not, lands in the notification audit log.
package notify

import "time"

// Item is one matched page in a digest.
type Item struct {
	Title   string
	URL     string
	Summary string
	// ImageURL is an optional preview image for card layouts.
	ImageURL string
	Phrases  []string
	Score    float64
}

// Digest is the channel-independent summary of a run's confirmed matches.
type Digest struct {
	TaskName    string
	SiteName    string
	SiteURL     string
	Items       []Item
	GeneratedAt time.Time
}

// Empty reports whether there is anything worth delivering.
func (d Digest) Empty() bool {
	return len(d.Items) == 0
}
