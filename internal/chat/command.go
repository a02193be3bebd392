package chat

import "strings"

// Kind identifies a parsed command.
type Kind int

const (
	KindUnknown Kind = iota
	KindBye
	KindSendAll
	KindSendUser
	KindList
	KindRename
)

var kindNames = [...]string{
	KindUnknown:  "unknown",
	KindBye:      "bye",
	KindSendAll:  "send_all",
	KindSendUser: "send_user",
	KindList:     "list",
	KindRename:   "rename",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// ReplyError is a command the server refuses to execute.  Its text goes
// back to the sender verbatim.
type ReplyError struct{ Reply string }

func (e *ReplyError) Error() string { return e.Reply }

func reject(reply string) *ReplyError { return &ReplyError{Reply: reply} }

// Command is the result of parsing one line from a client.  Exactly one
// of Kind being executable or Err being set holds: when Err is non-nil
// the command must not run.
type Command struct {
	Kind   Kind
	Target string // recipient of send -user, new name for rename
	Text   string // message body of send, spacing preserved
	Err    *ReplyError
}

// Ok reports whether the command can be executed.
func (c Command) Ok() bool { return c.Err == nil }

// words splits on single spaces and drops trailing empty fields, so
// "bye " is a bare bye while "bye  x" carries an argument.
func words(line string) []string {
	w := strings.Split(line, " ")
	for len(w) > 1 && w[len(w)-1] == "" {
		w = w[:len(w)-1]
	}
	return w
}

// remainder returns what follows the first n words of line, each taken
// with its single separating space.  Interior and trailing spacing in the
// remainder is kept as typed.
func remainder(line string, w []string, n int) string {
	off := 0
	for i := 0; i < n && i < len(w); i++ {
		off += len(w[i]) + 1
	}
	if off >= len(line) {
		return ""
	}
	return line[off:]
}

// ParseCommand turns a decrypted line into a Command.  It never fails:
// anything unrecognised is KindUnknown with an error reply.
func ParseCommand(line string) Command {
	w := words(line)

	switch w[0] {
	case "bye":
		if len(w) != 1 {
			return Command{Kind: KindBye, Err: reject(ReplyByeArgs)}
		}
		return Command{Kind: KindBye}

	case "list":
		if len(w) != 1 {
			return Command{Kind: KindList, Err: reject(ReplyListArgs)}
		}
		return Command{Kind: KindList}

	case "rename":
		if len(w) != 2 || w[1] == "" {
			return Command{Kind: KindRename, Err: reject(ReplyRenameSyntax)}
		}
		return Command{Kind: KindRename, Target: w[1]}

	case "send":
		return parseSend(line, w)
	}
	return Command{Kind: KindUnknown, Err: reject(ReplyUnknown)}
}

func parseSend(line string, w []string) Command {
	if len(w) < 2 {
		return Command{Kind: KindSendAll, Err: reject(ReplyMalformed)}
	}
	switch w[1] {
	case "-all":
		return Command{Kind: KindSendAll, Text: remainder(line, w, 2)}
	case "-user":
		if len(w) < 3 {
			return Command{Kind: KindSendUser, Err: reject(ReplyMalformed)}
		}
		return Command{Kind: KindSendUser, Target: w[2], Text: remainder(line, w, 3)}
	}
	// Neither variant; it is counted with the unrecognised commands.
	return Command{Kind: KindUnknown, Err: reject(ReplySendParams)}
}
