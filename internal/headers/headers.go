// Package headers turns free-form email header input into the structured
// pieces a provider API needs: cc/bcc recipients, a priority flag and custom
// X- headers.
package headers

import "strings"

// Input is raw header input in one of its accepted shapes: Block or Lines.
type Input interface {
	lines() []string
}

// Block is a raw header block with one "Name: Value" pair per line.
// Both CRLF and LF line endings are accepted.
type Block string

func (b Block) lines() []string {
	if b == "" {
		return nil
	}
	return strings.Split(strings.ReplaceAll(string(b), "\r\n", "\n"), "\n")
}

// Lines is header input that has already been split into "Name: Value" strings.
type Lines []string

func (l Lines) lines() []string {
	return l
}

// Normalize returns the header input as a list of "Name: Value" lines.
// A nil input yields nil.
func Normalize(in Input) []string {
	if in == nil {
		return nil
	}
	return in.lines()
}

// Parsed holds the information extracted from a header block.
type Parsed struct {
	// Cc and Bcc accumulate across repeated header lines.
	Cc  []string
	Bcc []string

	// Important is set by the first Importance, X-Priority or
	// X-MSMail-Priority value containing "high" and never cleared afterwards.
	Important bool

	// Custom maps X- header names, as written, to their last value.
	Custom map[string]string
}

// Parse extracts recipients, priority and custom headers from raw header input.
//
// Lines without a colon are skipped. Subject, From, To and Reply-To are
// dropped because they travel in dedicated request fields. Headers that are
// neither recipients, priority markers nor X- headers are ignored.
func Parse(in Input) Parsed {
	parsed := Parsed{Custom: make(map[string]string)}

	for _, line := range Normalize(in) {
		name, value, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)

		switch strings.ToLower(name) {
		case "subject", "from", "to", "reply-to":
		case "cc":
			parsed.Cc = append(parsed.Cc, SplitAddresses(value)...)
		case "bcc":
			parsed.Bcc = append(parsed.Bcc, SplitAddresses(value)...)
		case "importance", "x-priority", "x-msmail-priority":
			if !parsed.Important {
				parsed.Important = strings.Contains(strings.ToLower(value), "high")
			}
		default:
			if isCustom(name) {
				parsed.Custom[name] = value
			}
		}
	}

	return parsed
}

// SplitAddresses splits a comma-separated address list, trimming each entry
// and dropping empty ones.
func SplitAddresses(list string) []string {
	parts := strings.Split(list, ",")
	addrs := make([]string, 0, len(parts))
	for _, p := range parts {
		if addr := strings.TrimSpace(p); addr != "" {
			addrs = append(addrs, addr)
		}
	}
	return addrs
}

func isCustom(name string) bool {
	return len(name) >= 2 && strings.EqualFold(name[:2], "x-")
}
