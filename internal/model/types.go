// Package model holds the data types shared across the captioning pipeline:
// the read-only image metadata record, the tag graph node, character
// statistics, and the caption outcome persisted per image id.
package model

import "strings"

// ImageRecord is a read-only projection of an image's metadata, as ingested
// by upstream jobs. The core never writes to it.
type ImageRecord struct {
	ID            int64    `bson:"_id" json:"_id"`
	MD5           string   `bson:"md5" json:"md5"`
	FileExt       string   `bson:"file_ext" json:"file_ext"`
	GeneralTags   []string `bson:"general_tags" json:"general_tags"`
	CharacterTags []string `bson:"character_tags" json:"character_tags"`
	ArtistTags    []string `bson:"artist_tags" json:"artist_tags"`
	CopyrightTags []string `bson:"copyright_tags" json:"copyright_tags"`
	MetaTags      []string `bson:"meta_tags" json:"meta_tags"`

	notFound bool
}

// Found reports whether the record came from an actual document rather than
// the NotFoundImageRecord sentinel.
func (r ImageRecord) Found() bool {
	return !r.notFound
}

// BuildURL computes the CDN URL for this record's md5/file_ext, or "" when
// the pair does not synthesize a usable URL (spec.md §3, §4.1).
func (r ImageRecord) BuildURL() string {
	if r.MD5 == "" || r.FileExt == "" {
		return ""
	}
	ext := strings.ToLower(r.FileExt)
	if ext == "gif" {
		return ""
	}
	url := "https://cdn.donmai.us/original/" + r.MD5[0:2] + "/" + r.MD5[2:4] + "/" + r.MD5 + "." + ext
	if strings.Contains(strings.ToLower(url), "gif") {
		return ""
	}
	return url
}

// URLStatus classifies this record for URL-resolution purposes: 200 if a
// usable URL is synthesizable, 405 if the record exists but is unusable
// (missing md5/ext, or the extension is gif), 404 if the record is absent.
func (r ImageRecord) URLStatus() int {
	if !r.Found() {
		return 404
	}
	if r.BuildURL() == "" {
		return 405
	}
	return 200
}

// NotFoundImageRecord returns the sentinel used for a missing metadata
// document (spec.md §4.1 "a missing record returns a sentinel with
// status=404, no URL").
func NotFoundImageRecord(id int64) ImageRecord {
	return ImageRecord{ID: id, notFound: true}
}

// URLResolution is the transient (id, url, status) triple produced by the
// metadata store gateway (spec.md §3).
type URLResolution struct {
	ID     int64
	URL    string
	Status int
}

// TagNode is a node in the tag graph: a unique name, a category enum, a
// post-count, and three unordered neighbor sets.
type TagNode struct {
	Name      string   `bson:"name" json:"name"`
	Category  int      `bson:"category" json:"category"`
	PostCount int64    `bson:"post_count" json:"post_count"`
	Parents   []string `bson:"parents" json:"parents"`
	Children  []string `bson:"children" json:"children"`
	Related   []string `bson:"related" json:"related"`
}

// IsRoot reports whether this node has no parents.
func (t TagNode) IsRoot() bool {
	return len(t.Parents) == 0
}

// CharacterStats holds the attribute list and series weights recorded for a
// character tag, used during cross-verification (spec.md §4.6 step 1).
type CharacterStats struct {
	Name      string             `bson:"_id" json:"_id"`
	Attribute []string           `bson:"attribute" json:"attribute"`
	Series    map[string]float64 `bson:"series" json:"series"`
}

// Caption is the parsed five-field model response (spec.md §6).
type Caption struct {
	RegularSummary               string `bson:"regular_summary" json:"regular_summary"`
	MidjourneyStyleSummary       string `bson:"midjourney_style_summary" json:"midjourney_style_summary"`
	ShortSummary                 string `bson:"short_summary" json:"short_summary"`
	CreationInstructionalSummary string `bson:"creation_instructional_summary" json:"creation_instructional_summary"`
	DeviantartCommissionRequest  string `bson:"deviantart_commission_request" json:"deviantart_commission_request"`
}

// Complete reports whether all five schema keys are populated (Testable
// Property 2: "status_code = 200 ⇔ success = true ∧ caption present with all
// five schema keys").
func (c *Caption) Complete() bool {
	if c == nil {
		return false
	}
	return c.RegularSummary != "" && c.MidjourneyStyleSummary != "" && c.ShortSummary != "" &&
		c.CreationInstructionalSummary != "" && c.DeviantartCommissionRequest != ""
}

// CaptionOutcome is the entity owned by this system: the per-id persisted
// result of a captioning attempt (spec.md §3, §6).
type CaptionOutcome struct {
	ID             int64    `bson:"_id" json:"_id"`
	Success        bool     `bson:"success" json:"success"`
	StatusCode     int      `bson:"status_code" json:"status_code"`
	ProcessingTime float64  `bson:"processing_time" json:"processing_time"`
	ImageURL       string   `bson:"image_url,omitempty" json:"image_url,omitempty"`
	Prompt         string   `bson:"prompt,omitempty" json:"prompt,omitempty"`
	Caption        *Caption `bson:"caption,omitempty" json:"caption,omitempty"`
	Artist         []string `bson:"artist,omitempty" json:"artist,omitempty"`
	Character      []string `bson:"character,omitempty" json:"character,omitempty"`
	Tags           []string `bson:"tags,omitempty" json:"tags,omitempty"`
	Error          string   `bson:"error,omitempty" json:"error,omitempty"`
	ErrorType      string   `bson:"error_type,omitempty" json:"error_type,omitempty"`
	ErrorStack     string   `bson:"error_stack,omitempty" json:"error_stack,omitempty"`
	RawResponse    string   `bson:"raw_response,omitempty" json:"raw_response,omitempty"`
	CreatedAt      float64  `bson:"created_at,omitempty" json:"created_at,omitempty"`
}

// ShardKey returns the shard collection name for an id: floor(id/100000) as
// a decimal string, no leading zeros (spec.md §3, §6).
func ShardKey(id int64) string {
	key := id / 100000
	if id < 0 {
		// negative ids are not a valid input per spec.md (nonnegative
		// integer primary key); guard against floor-division surprises
		// rather than silently mis-shard them.
		key = -((-id + 99999) / 100000)
	}
	return itoa(key)
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [24]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// ProcessedPredicate reports whether an outcome counts as "done" for
// idempotency purposes (spec.md §4.2, §9 Open Question #1): success, or a
// recorded prompt, or a status_code in the reserved done-set.
func ProcessedPredicate(o CaptionOutcome, hasPrompt bool) bool {
	if o.Success {
		return true
	}
	if hasPrompt {
		return true
	}
	switch o.StatusCode {
	case 200, 403, 404, 405, 998, 999:
		return true
	default:
		return false
	}
}
