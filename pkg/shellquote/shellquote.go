// Package shellquote builds shell-pasteable command lines for logging engine invocations.
package shellquote

import (
	"slices"
	"strings"
)

// Mask replaces values hidden by JoinMasked.
const Mask = "***"

// safe lists characters that never need quoting.
const safe = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_@%+=:,./-"

// shellEscapeDQ returns a bash/zsh-safe argument using double quotes when needed.
// In double quotes, these must be escaped: \ " $ `.
func shellEscapeDQ(s string) string { //nolint:varnamelen
	if s == "" {
		return `""`
	}

	needsQuotes := strings.ContainsFunc(s, func(r rune) bool {
		return !strings.ContainsRune(safe, r)
	})

	if !needsQuotes {
		return s
	}

	var b strings.Builder //nolint:varnamelen
	b.WriteByte('"')

	for _, r := range s { //nolint:varnamelen
		switch r {
		case '\\', '"', '$', '`':
			b.WriteByte('\\')
			b.WriteRune(r)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}

	b.WriteByte('"')

	return b.String()
}

// Join constructs a shell-pasteable command line from bin and args.
func Join(bin string, args []string) string {
	return JoinMasked(bin, args)
}

// JoinMasked is Join with the value following any of secretFlags replaced by Mask.
// Both "--proxy URL" and "--proxy=URL" forms are masked.
func JoinMasked(bin string, args []string, secretFlags ...string) string {
	var cmdLine strings.Builder

	cmdLine.WriteString(shellEscapeDQ(bin))

	maskNext := false

	for _, arg := range args {
		cmdLine.WriteByte(' ')

		switch {
		case maskNext:
			cmdLine.WriteString(Mask)

			maskNext = false
		case slices.Contains(secretFlags, arg):
			cmdLine.WriteString(shellEscapeDQ(arg))

			maskNext = true
		default:
			if flag, _, ok := strings.Cut(arg, "="); ok && slices.Contains(secretFlags, flag) {
				cmdLine.WriteString(shellEscapeDQ(flag) + "=" + Mask)

				continue
			}

			cmdLine.WriteString(shellEscapeDQ(arg))
		}
	}

	return cmdLine.String()
}
