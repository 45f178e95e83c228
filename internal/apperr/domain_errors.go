package apperr

var (
	ErrActivityNotFound   = NotFound("activity not found")
	ErrActivityFull       = FailedPrecondition("activity full")
	ErrCreatorCannotLeave = FailedPrecondition("creators cannot leave their own activity")
	ErrNotCreator         = Forbidden("only the creator can modify this activity")
	ErrInvalidRoute       = InvalidArg("route polyline could not be decoded")

	ErrEmptyMessage   = InvalidArg("message text cannot be empty")
	ErrNotChatMember  = NotFound("not a member of this chat")
	ErrNoActiveChat   = FailedPrecondition("no chat is currently open")
	ErrMissingUserID  = InvalidArg("user id is required")
	ErrMissingChatRef = InvalidArg("activity id is required")

	ErrRequestNotFound   = NotFound("friend request not found")
	ErrAlreadyFriends    = FailedPrecondition("already friends")
	ErrRequestPending    = FailedPrecondition("a friend request is already pending")
	ErrSelfFriendRequest = InvalidArg("cannot send a friend request to yourself")
	ErrRequestHandled    = FailedPrecondition("friend request already handled")

	ErrProfileNotLoaded = FailedPrecondition("profile not loaded")
)
