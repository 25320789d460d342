// Package agent models the AI persona configuration a call is bound to. The
// actual configuration store (a database, a cache, a management API) is an
// external collaborator outside this module's scope; Resolver is the seam.
package agent

import "context"

// Config is the resolved persona for a call: prompt material, default
// language, and voice selection.
type Config struct {
	SystemPrompt  string
	FirstMessage  string
	Language      string
	VoiceOverride string
	Active        bool
}

// Resolver looks up the Config to use for a call, keyed by the PBX account
// and caller identifiers. Implementations are free to cache, call out to a
// database, or anything else; this package only defines the seam.
type Resolver interface {
	Resolve(ctx context.Context, accountSid, callerNumber string) (*Config, error)
}
