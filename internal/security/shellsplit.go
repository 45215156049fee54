package security

import (
	"errors"
	"strings"
)

var errUnterminatedQuote = errors.New("unterminated quote")

// splitTokens splits a shell command into words, honoring single and double
// quotes. It is a validator's lexer, not a shell: escapes inside double
// quotes are kept literal and expansion never happens.
func splitTokens(command string) ([]string, error) {
	var tokens []string
	var cur strings.Builder
	inWord := false
	quote := byte(0)

	flush := func() {
		if inWord {
			tokens = append(tokens, cur.String())
			cur.Reset()
			inWord = false
		}
	}

	for i := 0; i < len(command); i++ {
		c := command[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			} else {
				cur.WriteByte(c)
			}
		case c == '\'' || c == '"':
			quote = c
			inWord = true
		case c == ' ' || c == '\t' || c == '\n':
			flush()
		case c == '\\' && i+1 < len(command):
			i++
			cur.WriteByte(command[i])
			inWord = true
		default:
			cur.WriteByte(c)
			inWord = true
		}
	}
	if quote != 0 {
		return nil, errUnterminatedQuote
	}
	flush()
	return tokens, nil
}

// splitSegments splits a compound command on &&, ||, and ; that sit outside
// quotes. Pipes stay inside one segment.
func splitSegments(command string) []string {
	var segments []string
	var cur strings.Builder
	quote := byte(0)

	flush := func() {
		seg := strings.TrimSpace(cur.String())
		if seg != "" {
			segments = append(segments, seg)
		}
		cur.Reset()
	}

	for i := 0; i < len(command); i++ {
		c := command[i]
		switch {
		case quote != 0:
			cur.WriteByte(c)
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
			cur.WriteByte(c)
		case c == ';':
			flush()
		case c == '&' && i+1 < len(command) && command[i+1] == '&':
			flush()
			i++
		case c == '|' && i+1 < len(command) && command[i+1] == '|':
			flush()
			i++
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return segments
}

// shellKeywords never count as command names.
var shellKeywords = map[string]bool{
	"if": true, "then": true, "else": true, "elif": true, "fi": true,
	"for": true, "while": true, "until": true, "do": true, "done": true,
	"case": true, "esac": true, "in": true, "!": true, "{": true, "}": true,
}

// extractCommands returns the lowercase base names of every command in a
// (possibly compound, possibly piped) command string. A parse failure
// returns nil so the caller fails closed.
func extractCommands(command string) []string {
	var commands []string
	for _, segment := range splitSegments(command) {
		tokens, err := splitTokens(segment)
		if err != nil {
			return nil
		}
		expectCommand := true
		for _, token := range tokens {
			switch {
			case token == "|" || token == "||" || token == "&&" || token == "&":
				expectCommand = true
			case shellKeywords[token]:
			case strings.HasPrefix(token, "-"):
			case strings.Contains(token, "=") && !strings.HasPrefix(token, "="):
				// VAR=value prefix assignment
			case expectCommand:
				commands = append(commands, strings.ToLower(baseName(token)))
				expectCommand = false
			}
		}
	}
	return commands
}

// baseName strips any path prefix, treating both separators as such so a
// Windows-style path cannot smuggle a command name.
func baseName(token string) string {
	if i := strings.LastIndexAny(token, "/\\"); i >= 0 {
		return token[i+1:]
	}
	return token
}
