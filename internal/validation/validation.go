// Package validation implements the shape checks of spec.md §4.5 step 3
// (content emptiness and length, idempotency-key length) and the @mention
// grammar of step 4. reply_to is checked by store.InsertMessage, not here.
package validation

import (
	"regexp"
	"strings"

	"github.com/fechatter/messaging-core/internal/apperrors"
	"github.com/fechatter/messaging-core/internal/idempotency"
)

const MaxContentBytes = 16 * 1024 // 16 KiB

// ValidateContent enforces spec.md §4.5 step 3: non-empty unless files are
// attached, and no longer than 16 KiB.
func ValidateContent(content string, hasFiles bool) error {
	if content == "" && !hasFiles {
		return apperrors.New(apperrors.InvalidArgument, "message must have content or at least one file")
	}
	if len(content) > MaxContentBytes {
		return apperrors.Newf(apperrors.InvalidArgument, "message exceeds maximum length of %d bytes", MaxContentBytes).
			WithDetails(map[string]any{"max_bytes": MaxContentBytes, "actual_bytes": len(content)})
	}
	return nil
}

// ValidateIdempotencyKey enforces the 128-byte opaque-string limit of
// spec.md §4.4. An empty key means "no idempotency" and is always valid.
func ValidateIdempotencyKey(key string) error {
	if key == "" {
		return nil
	}
	if len(key) > idempotency.MaxKeyBytes {
		return apperrors.Newf(apperrors.InvalidArgument, "idempotency key exceeds %d bytes", idempotency.MaxKeyBytes)
	}
	return nil
}

var mentionToken = regexp.MustCompile(`@(everyone|here|[A-Za-z0-9_.\-]+)`)

// ParsedMention is a raw @token found in message content before it is
// resolved against chat membership.
type ParsedMention struct {
	Raw      string // "everyone", "here", or a username
	Everyone bool
	Here     bool
}

// ExtractMentionTokens finds every @everyone, @here, and @<username> token
// in content (spec.md §4.5 step 4). Resolution against active membership,
// and silently dropping unknown usernames, is the Message Service's job —
// this function only does the lexical extraction.
func ExtractMentionTokens(content string) []ParsedMention {
	matches := mentionToken.FindAllStringSubmatch(content, -1)
	seen := make(map[string]bool, len(matches))
	out := make([]ParsedMention, 0, len(matches))
	for _, m := range matches {
		token := strings.ToLower(m[1])
		if seen[token] {
			continue
		}
		seen[token] = true
		switch token {
		case "everyone":
			out = append(out, ParsedMention{Raw: m[1], Everyone: true})
		case "here":
			out = append(out, ParsedMention{Raw: m[1], Here: true})
		default:
			out = append(out, ParsedMention{Raw: m[1]})
		}
	}
	return out
}
