package command

import (
	"regexp"
	"strconv"
	"strings"
)

// Kind enumerates the commands the chat surface understands.
type Kind string

const (
	KindStatus  Kind = "status"
	KindWork    Kind = "work"
	KindStop    Kind = "stop"
	KindQueue   Kind = "queue"
	KindPause   Kind = "pause"
	KindResume  Kind = "resume"
	KindHistory Kind = "history"
	KindHelp    Kind = "help"
	KindUnknown Kind = "unknown"
)

// Command is the structured form of one chat message. Raw always holds the
// original text so Unknown can be echoed back to the user.
type Command struct {
	Kind     Kind
	Repo     string
	Issue    int
	MinionID string
	Raw      string
}

var (
	mentionRe   = regexp.MustCompile(`<@[A-Za-z0-9]+>`)
	repoIssueRe = regexp.MustCompile(`^([A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+)#(\d+)$`)
	repoOnlyRe  = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)
	issueOnlyRe = regexp.MustCompile(`^#?(\d+)$`)
)

// Parse converts free chat text into a Command. defaultRepo fills in the
// repo when the user gives a bare issue number. Anything ambiguous comes
// back as Unknown with the original text preserved.
func Parse(text, defaultRepo string) Command {
	raw := strings.TrimSpace(text)
	cleaned := strings.TrimSpace(mentionRe.ReplaceAllString(raw, ""))
	if cleaned == "" {
		return Command{Kind: KindUnknown, Raw: raw}
	}

	fields := strings.Fields(cleaned)
	verb := strings.ToLower(fields[0])
	args := fields[1:]

	// "work on ..." reads naturally; swallow the filler word
	if len(args) > 0 && strings.EqualFold(args[0], "on") {
		args = args[1:]
	}

	switch verb {
	case "status":
		return Command{Kind: KindStatus, Raw: raw}
	case "queue":
		return Command{Kind: KindQueue, Raw: raw}
	case "pause":
		return Command{Kind: KindPause, Raw: raw}
	case "resume", "unpause":
		return Command{Kind: KindResume, Raw: raw}
	case "history":
		return Command{Kind: KindHistory, Raw: raw}
	case "help":
		return Command{Kind: KindHelp, Raw: raw}
	case "work":
		return parseWork(args, defaultRepo, raw)
	case "stop", "kill":
		return parseStop(args, defaultRepo, raw)
	default:
		return Command{Kind: KindUnknown, Raw: raw}
	}
}

func parseWork(args []string, defaultRepo, raw string) Command {
	switch len(args) {
	case 0:
		// Bare "work": sweep whatever is ready
		return Command{Kind: KindWork, Raw: raw}
	case 1:
		if repo, issue, ok := parseIssueRef(args[0], defaultRepo); ok {
			return Command{Kind: KindWork, Repo: repo, Issue: issue, Raw: raw}
		}
		if repoOnlyRe.MatchString(args[0]) {
			return Command{Kind: KindWork, Repo: args[0], Raw: raw}
		}
	case 2:
		// "work o/r 42"
		if repoOnlyRe.MatchString(args[0]) {
			if m := issueOnlyRe.FindStringSubmatch(args[1]); m != nil {
				n, _ := strconv.Atoi(m[1])
				return Command{Kind: KindWork, Repo: args[0], Issue: n, Raw: raw}
			}
		}
	}
	return Command{Kind: KindUnknown, Raw: raw}
}

func parseStop(args []string, defaultRepo, raw string) Command {
	if len(args) != 1 {
		return Command{Kind: KindUnknown, Raw: raw}
	}
	if strings.HasPrefix(args[0], "minion-") {
		return Command{Kind: KindStop, MinionID: args[0], Raw: raw}
	}
	if repo, issue, ok := parseIssueRef(args[0], defaultRepo); ok {
		return Command{Kind: KindStop, Repo: repo, Issue: issue, Raw: raw}
	}
	return Command{Kind: KindUnknown, Raw: raw}
}

// parseIssueRef understands "owner/repo#42", "#42", and "42"; the latter
// two take the default repo.
func parseIssueRef(s, defaultRepo string) (repo string, issue int, ok bool) {
	if m := repoIssueRe.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[2])
		return m[1], n, true
	}
	if m := issueOnlyRe.FindStringSubmatch(s); m != nil {
		if defaultRepo == "" {
			return "", 0, false
		}
		n, _ := strconv.Atoi(m[1])
		return defaultRepo, n, true
	}
	return "", 0, false
}

// Help is the usage text posted for the help command and bad input.
const Help = `Overlord commands:
  status                  active minions and runtime health
  queue                   last queue scan
  work [repo][#N]         dispatch a minion (bare "work" sweeps the queue)
  stop <minion-id|#N>     stop a minion
  pause / resume          toggle automatic dispatch
  history                 recent completed work
  help                    this text`
