package telegram

import (
	"errors"
	"fmt"
	"strings"

	"quizbot/internal/transport"

	tele "gopkg.in/telebot.v4"
)

// revokedPhrases are API descriptions that mean the bot can no longer post
// to the chat. Telegram does not expose stable codes for all of them.
var revokedPhrases = []string{
	"bot was kicked",
	"bot was blocked",
	"not enough rights",
	"have no rights",
	"bot is not a member",
	"chat not found",
	"group chat was deactivated",
	"user is deactivated",
}

// Classify wraps send errors that mean permanent loss of access with
// transport.ErrAccessRevoked. Other errors, including timeouts and flood
// waits, are returned unchanged.
func Classify(err error) error {
	if err == nil || errors.Is(err, transport.ErrAccessRevoked) {
		return err
	}
	if isRevoked(err) {
		return fmt.Errorf("%w: %v", transport.ErrAccessRevoked, err)
	}
	return err
}

func isRevoked(err error) bool {
	switch {
	case errors.Is(err, tele.ErrBlockedByUser),
		errors.Is(err, tele.ErrKickedFromGroup),
		errors.Is(err, tele.ErrKickedFromSuperGroup),
		errors.Is(err, tele.ErrChatNotFound):
		return true
	}
	var te *tele.Error
	if errors.As(err, &te) && te.Code == 403 {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, p := range revokedPhrases {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
