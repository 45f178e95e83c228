package rest

import (
	"context"
	"net/http"

	"github.com/bwise1/meetup_api/internal/apperr"
	"github.com/bwise1/meetup_api/util"
	"github.com/bwise1/meetup_api/util/values"
	"github.com/bwise1/meetup_api/util/websockets"
)

// Websocket commands.
const (
	cmdChatSubscribe   = "chat.subscribe"
	cmdChatUnsubscribe = "chat.unsubscribe"
	cmdChatRead        = "chat.read"
	cmdChatSend        = "chat.send"
)

// ServeWebSocket opens the caller's session and streams its snapshots over
// the upgraded connection.
func (api *API) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	user, err := util.GetAuthUserFromContext(r.Context())
	if err != nil {
		writeErrorResponse(w, err, values.NotAuthorised, "not-authorized")
		return
	}
	if _, err := api.Deps.Sessions.Open(r.Context(), user); err != nil {
		writeErrorResponse(w, err, statusOf(err), apperr.MessageOf(err))
		return
	}
	api.Deps.WebSocket.HandleConnections(w, r, user.ID)
}

func (api *API) handleCommand(ctx context.Context, userID string, cmd websockets.Command) error {
	s, ok := api.Deps.Sessions.Get(userID)
	if !ok {
		return apperr.FailedPrecondition("session closed, reconnect")
	}

	switch cmd.Type {
	case cmdChatSubscribe:
		if !s.Activities.IsParticipant(cmd.ActivityID, userID) {
			return errNotParticipant
		}
		if err := s.Chat.Subscribe(ctx, cmd.ActivityID); err != nil {
			return err
		}
		s.Chat.MarkAsRead(cmd.ActivityID)
		return nil
	case cmdChatUnsubscribe:
		s.Chat.Unsubscribe()
		return nil
	case cmdChatRead:
		s.Chat.MarkAsRead(cmd.ActivityID)
		return nil
	case cmdChatSend:
		if !s.Activities.IsParticipant(cmd.ActivityID, userID) {
			return errNotParticipant
		}
		_, err := s.Chat.Send(ctx, cmd.ActivityID, cmd.Text)
		return err
	default:
		return apperr.InvalidArg("unknown command " + cmd.Type)
	}
}
