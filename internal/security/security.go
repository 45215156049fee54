// Package security implements the pre-execution shell command gate. It is a
// pure allowlist: only commands explicitly permitted for the platform run at
// all, and a handful of sharp tools (pkill, taskkill, chmod, shell
// wrappers, init scripts) get dedicated validators on top. Everything else,
// including anything the gate cannot parse, is denied.
package security

import (
	"fmt"
	"runtime"
	"strings"

	"arcadiaforge/internal/logging"
)

// commonCommands work on every platform.
var commonCommands = []string{
	// file inspection
	"ls", "cat", "head", "tail", "wc", "grep",
	// file operations
	"cp", "mkdir",
	// directory
	"pwd",
	// node development
	"npm", "node", "npx",
	// version control
	"git",
	// processes
	"ps", "sleep", "timeout",
	// python
	"python", "python3", "mamba", "conda", "pip", "pip3",
	// misc
	"curl", "echo",
}

var unixCommands = []string{
	"chmod", "pkill", "lsof", "sh", "bash",
	"init.sh",
}

var windowsCommands = []string{
	"dir", "type", "copy", "md", "taskkill", "where", "start", "cmd", "powershell",
	"init.bat", "init.ps1", ".init.bat", ".init.ps1",
}

var unixValidated = []string{"pkill", "chmod", "init.sh", "bash", "sh"}

var windowsValidated = []string{"taskkill", "init.bat", "init.ps1", ".init.bat", ".init.ps1", "powershell", "cmd"}

// Decision is the gate's verdict on one command string.
type Decision struct {
	Allowed bool
	Reason  string
}

// Gate validates shell commands against the platform allowlist.
type Gate struct {
	allowed   map[string]bool
	validated map[string]bool
	windows   bool
}

// New builds a gate for the current platform. extraAllowed extends the
// allowlist from configuration; extra entries never get special validators.
func New(extraAllowed []string) *Gate {
	return newForPlatform(runtime.GOOS == "windows", extraAllowed)
}

func newForPlatform(windows bool, extraAllowed []string) *Gate {
	g := &Gate{
		allowed:   make(map[string]bool),
		validated: make(map[string]bool),
		windows:   windows,
	}
	for _, c := range commonCommands {
		g.allowed[c] = true
	}
	platform := unixCommands
	validated := unixValidated
	if windows {
		platform = windowsCommands
		validated = windowsValidated
	}
	for _, c := range platform {
		g.allowed[c] = true
	}
	for _, c := range validated {
		g.validated[c] = true
	}
	for _, c := range extraAllowed {
		c = strings.ToLower(strings.TrimSpace(c))
		if c != "" {
			g.allowed[c] = true
		}
	}
	return g
}

// Check validates one shell command string. Compound commands are checked
// per segment; every command in every segment must pass.
func (g *Gate) Check(command string) Decision {
	command = strings.TrimSpace(command)
	if command == "" {
		return Decision{Allowed: false, Reason: "empty command"}
	}

	// rm never appears in any allowlist; rm -rf is called out explicitly
	// so the denial names the reason rather than just "not allowed".
	if d := checkRecursiveForce(command); !d.Allowed {
		logging.Security("DENY %q: %s", command, d.Reason)
		return d
	}

	d := g.checkString(command)
	if d.Allowed {
		logging.Security("ALLOW %q", command)
	} else {
		logging.Security("DENY %q: %s", command, d.Reason)
	}
	return d
}

// checkString is the recursive core shared with wrapper validation.
func (g *Gate) checkString(command string) Decision {
	commands := extractCommands(command)
	if len(commands) == 0 {
		return Decision{Allowed: false, Reason: fmt.Sprintf("could not parse command for validation: %s", command)}
	}
	segments := splitSegments(command)

	for _, cmd := range commands {
		if cmd == "cd" {
			return Decision{Allowed: false, Reason: "'cd' is not allowed; the agent runs in a fixed root. Use relative paths or flags like '--prefix' for npm or '-C' for git"}
		}
		if !g.allowed[cmd] {
			return Decision{Allowed: false, Reason: fmt.Sprintf("command %q is not in the allowed commands list for this platform", cmd)}
		}
		if !g.validated[cmd] {
			continue
		}

		segment := segmentFor(cmd, segments)
		if segment == "" {
			segment = command
		}
		var d Decision
		switch cmd {
		case "pkill":
			d = validatePkill(segment)
		case "chmod":
			d = validateChmod(segment)
		case "taskkill":
			d = validateTaskkill(segment)
		case "init.sh", "init.bat", "init.ps1", ".init.bat", ".init.ps1":
			d = g.validateInitScript(segment)
		case "powershell", "cmd", "bash", "sh":
			d = g.validateWrapper(segment)
		default:
			d = Decision{Allowed: true}
		}
		if !d.Allowed {
			return d
		}
	}
	return Decision{Allowed: true}
}

// checkRecursiveForce hard-denies the rm -rf family in any segment.
func checkRecursiveForce(command string) Decision {
	tokens, err := splitTokens(command)
	if err != nil {
		return Decision{Allowed: true} // the parse failure denial comes later
	}
	sawRm := false
	for _, t := range tokens {
		tl := strings.ToLower(baseName(t))
		if tl == "rm" {
			sawRm = true
		}
		if sawRm && (tl == "-rf" || tl == "-fr" || tl == "-r" || tl == "-f") {
			return Decision{Allowed: false, Reason: "'rm -rf' and friends are permanently denied; delete files through the file tools so changes stay observable"}
		}
	}
	return Decision{Allowed: true}
}

// segmentFor finds the compound segment containing a command name.
func segmentFor(cmd string, segments []string) string {
	for _, segment := range segments {
		for _, c := range extractCommands(segment) {
			if c == cmd {
				return segment
			}
		}
	}
	return ""
}
