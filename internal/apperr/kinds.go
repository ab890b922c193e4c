package apperr

var (
	// Categories, for errors.Is checks against any error of the code.
	ErrNotFound           = &AppError{Code: CodeNotFound}
	ErrPermissionDenied   = &AppError{Code: CodePermissionDenied}
	ErrInvalidTarget      = &AppError{Code: CodeInvalidTarget}
	ErrStoreUnavailable   = &AppError{Code: CodeStoreUnavailable}
	ErrNamespaceExhausted = &AppError{Code: CodeNamespaceExhausted}

	// Domain errors
	ErrSelfConversation   = InvalidTarget("cannot start a conversation with yourself")
	ErrSelfInquiry        = InvalidTarget("cannot inquire about your own ad")
	ErrConversationClosed = New(CodeConversationClosed, "conversation is closed")
	ErrEmptyContent       = New(CodeEmptyContent, "message content cannot be empty")
	ErrContentTooLong     = New(CodeContentTooLong, "message content is too long")
	ErrMissingProfile     = New(CodeMissingProfile, "a player profile for the ad's sport is required")
	ErrNotMember          = PermissionDenied("not a member of this conversation")
	ErrConversationGone   = NotFound("conversation not found")
	ErrAdNotFound         = NotFound("ad not found")
	ErrUserNotFound       = NotFound("user not found")
)
