package job

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"os"
	"strings"
	"time"
)

// Posting is a single job posting returned by a source. It is immutable once
// built; the fingerprint identifies the same logical posting across repeated
// discovery calls and across sources that re-list it.
type Posting struct {
	Source      string    `json:"source"`
	SourceID    string    `json:"source_id"`
	Title       string    `json:"title"`
	Company     string    `json:"company"`
	Location    string    `json:"location"`
	Description string    `json:"description,omitempty"`
	URL         string    `json:"url"`
	ApplyURL    string    `json:"apply_url,omitempty"`
	PostedAt    time.Time `json:"posted_at"`
}

// Fingerprint returns a stable identity hash for the posting. It prefers the
// normalized URL; when the URL is missing or unparseable it falls back to the
// normalized title and company.
func (p *Posting) Fingerprint() string {
	key := normalizeURL(p.URL)
	if key == "" {
		key = normalize(p.Title) + "|" + normalize(p.Company)
	}

	sum := sha256.Sum256([]byte(p.Source + "|" + key))
	return hex.EncodeToString(sum[:])
}

// TargetURL returns the URL the application driver should open.
func (p *Posting) TargetURL() string {
	if p.ApplyURL != "" {
		return p.ApplyURL
	}
	return p.URL
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// normalizeURL strips query, fragment and a trailing slash so that tracking
// parameters do not split one posting into many fingerprints.
func normalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}

	u.RawQuery = ""
	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)

	return strings.TrimSuffix(u.String(), "/")
}

// Postings is an ordered collection of postings.
type Postings struct {
	Items []*Posting
}

func (p *Postings) Len() int {
	return len(p.Items)
}

// Filter returns a new collection with postings matching keep, preserving
// order, and the fingerprints of the dropped ones.
func (p *Postings) Filter(keep func(*Posting) bool) (*Postings, []string) {
	kept := make([]*Posting, 0, len(p.Items))
	var dropped []string

	for _, posting := range p.Items {
		if keep(posting) {
			kept = append(kept, posting)
			continue
		}
		dropped = append(dropped, posting.Fingerprint())
	}

	return &Postings{Items: kept}, dropped
}

func (p *Postings) FindByFingerprint(fp string) *Posting {
	for _, posting := range p.Items {
		if posting.Fingerprint() == fp {
			return posting
		}
	}
	return nil
}

// DumpToTmpFile writes the collection to a temporary JSON file and returns its name.
func (p *Postings) DumpToTmpFile() (string, error) {
	file, err := os.CreateTemp("", "postings_*.json")
	if err != nil {
		return "", err
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(p); err != nil {
		return "", err
	}
	return file.Name(), nil
}
