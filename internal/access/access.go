// Package access holds the authorization rules for conversations. Both
// conversation managers and the transport layer ask these predicates instead
// of checking membership themselves.
package access

import (
	"github.com/PaulBabatuyi/hittalaget-conversations/internal/apperr"
	"github.com/PaulBabatuyi/hittalaget-conversations/internal/data"
	"github.com/PaulBabatuyi/hittalaget-conversations/internal/normalize"
)

// Conversation is implemented by both conversation variants.
type Conversation interface {
	HasMember(handle string) bool
	IsOpen() bool
}

// CanView reports whether id is a current member of c.
func CanView(id data.Identity, c Conversation) bool {
	return c != nil && id.Handle != "" && c.HasMember(id.Handle)
}

// CanPost reports whether id may append to c: a member, and c is open.
func CanPost(id data.Identity, c Conversation) bool {
	return CanView(id, c) && c.IsOpen()
}

// CanClose reports whether id may leave or close c. Either party may.
func CanClose(id data.Identity, c Conversation) bool {
	return CanView(id, c)
}

// IsAdOwner reports whether id owns ad through its team.
func IsAdOwner(id data.Identity, ad *data.Ad) bool {
	return ad != nil && id.Handle != "" && normalize.Handle(ad.Owner) == normalize.Handle(id.Handle)
}

// RequireView returns PermissionDenied unless CanView.
func RequireView(id data.Identity, c Conversation) error {
	if !CanView(id, c) {
		return apperr.ErrNotMember
	}
	return nil
}

// participant is implemented by conversations that remember their original
// parties after they leave.
type participant interface {
	IsParticipant(handle string) bool
}

// RequirePost returns ConversationClosed to any original party of a closed
// conversation, and PermissionDenied to everyone else who is not a member.
func RequirePost(id data.Identity, c Conversation) error {
	if c != nil && !c.IsOpen() {
		if p, ok := c.(participant); ok && id.Handle != "" && p.IsParticipant(id.Handle) {
			return apperr.ErrConversationClosed
		}
	}
	if err := RequireView(id, c); err != nil {
		return err
	}
	if !c.IsOpen() {
		return apperr.ErrConversationClosed
	}
	return nil
}

// RequireClose returns PermissionDenied unless CanClose.
func RequireClose(id data.Identity, c Conversation) error {
	if !CanClose(id, c) {
		return apperr.ErrNotMember
	}
	return nil
}
