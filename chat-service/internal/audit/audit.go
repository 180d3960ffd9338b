package audit

import (
	"context"

	"github.com/weiawesome/wes-io-chat/pkg/log"
)

// Audit actions for chat-service.
const (
	ActionConnect       = "chat.connect"
	ActionAuthFailed    = "chat.auth_failed"
	ActionDisconnect    = "chat.disconnect"
	ActionJoinRoom      = "chat.join_room"
	ActionJoinDenied    = "chat.join_denied"
	ActionLeaveRoom     = "chat.leave_room"
	ActionCreateRoom    = "chat.create_room"
	ActionAddMember     = "chat.add_participant"
	ActionOpenDirect    = "chat.open_direct"
	ActionEditMessage   = "chat.edit_message"
	ActionDeleteMessage = "chat.delete_message"
	ActionStatusChange  = "chat.status_change"
)

// Field constants for audit entries.
const (
	FieldAction   = "action"
	FieldTargetID = "target_id"
	FieldDetail   = "detail"
)

// Log emits a structured audit log entry via the context logger.
func Log(ctx context.Context, action, userID, targetID, msg string) {
	l := log.Ctx(ctx)
	e := l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID)
	if targetID != "" {
		e = e.Str(FieldTargetID, targetID)
	}
	e.Msg(msg)
}

// LogWithDetail emits an audit log with extra detail field.
func LogWithDetail(ctx context.Context, action, userID, targetID, detail, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Str(FieldTargetID, targetID).
		Str(FieldDetail, detail).
		Msg(msg)
}
