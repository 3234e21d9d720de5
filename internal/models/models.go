// Package models defines the database entity types.
//
// All types are immutable value records: mutation (renew, hit-count
// increment, deactivation) goes through explicit operations in the db
// package, never field assignment on a retained object.
package models

// APIKey represents an API key record in the database.
type APIKey struct {
	ID        int64
	KeyPrefix string
	KeyHash   []byte
	CreatedAt int64
	RevokedAt *int64
}

// Token represents a capture token record in the database.
type Token struct {
	ID        int64
	Code      string
	Name      *string
	APIKeyID  *int64
	CreatedAt int64
	ExpiresAt *int64 // unix seconds; nil = never expires
	Active    bool
}

// Expired reports whether the token is past its expiry at the given
// unix time. Expiry only changes the default capture response; it
// never stops recording.
func (t Token) Expired(now int64) bool {
	return t.ExpiresAt != nil && *t.ExpiresAt < now
}

// Interaction represents one fully captured inbound request.
// Interactions are append-only and immutable once written.
type Interaction struct {
	ID         int64
	TokenID    int64
	OccurredAt int64 // unix nanoseconds; poll ordering key
	RemoteIP   string
	Method     string
	Path       string
	Query      string
	Headers    string // JSON map[string][]string
	Body       []byte
	UserAgent  string
	Protocol   string // HTTP|HTTPS|DNS
	RawRequest string

	IsPocHit    bool
	PocRuleName *string
	IsDataExfil bool
	ExfilType   *string
	ExfilData   *string
}

// PocRule represents an owner-authored synthetic response rule bound
// to a sub-path under a token.
type PocRule struct {
	ID              int64
	TokenID         int64
	Name            string
	Description     *string
	StatusCode      int
	ContentType     string
	Body            string
	Headers         string // JSON map[string]string
	RedirectURL     *string
	DelayMS         int
	EnableVariables bool
	Active          bool
	HitCount        int64
	CreatedAt       int64
}
