package chat

import (
	"fmt"
	"strings"
	"time"
)

// Replies and pushes on the wire.  Clients match some of these
// literally, so they must not change.
const (
	ReplyOK          = "OK"
	ReplyBadPassword = "Invalid password."
	ReplyBadHello    = "ERROR: Malformed handshake."
	ReplyNameTaken   = "ERROR: This username is already taken."

	ReplyDisconnect   = "DISCONNECT"
	ReplyByeArgs      = "ERROR: bye does not take any extra parameters."
	ReplyListArgs     = "ERROR: list does not take any extra parameters."
	ReplyRenameSyntax = "ERROR: Malformed command. Proper syntax is: rename <new name>"
	ReplyMalformed    = "ERROR: Malformed command."
	ReplySendParams   = "ERROR: Missing or wrong parameters for send command."
	ReplySelfMessage  = "ERROR: You can't send a private message to yourself."
	ReplyUnknown      = "ERROR: Unknown command."
	ReplyRateLimited  = "ERROR: Rate limit exceeded."
	ReplyTooLong      = "ERROR: Message too long."
)

// TimeLayout is the timestamp appended to chat messages.
const TimeLayout = "2006-01-02T15:04:05.000"

func replyNoSuchUser(name string) string {
	return "ERROR: The username " + name + " does not exist."
}

func joined(name string) string { return "*** " + name + " has connected." }

func departed(name string) string { return "*** " + name + " has disconnected from the server." }

func roster(names []string) string {
	return "*** Connected clients: " + strings.Join(names, " ")
}

func publicMessage(addr, from, text string, at time.Time) string {
	return fmt.Sprintf("%s/~%s: %s %s", addr, from, text, at.Format(TimeLayout))
}

func privateMessage(addr, from, to, text string, at time.Time) string {
	return fmt.Sprintf("%s/~%s to %s (private): %s %s", addr, from, to, text, at.Format(TimeLayout))
}
