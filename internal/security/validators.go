package security

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Dev-server process names pkill may always target.
var pkillAlwaysAllowed = map[string]bool{
	"vite": true, "next": true, "webpack": true, "esbuild": true,
	"parcel": true, "rollup": true, "tsc": true, "jest": true,
	"vitest": true, "playwright": true, "cypress": true,
	"uvicorn": true, "gunicorn": true, "flask": true, "django": true,
	"fastapi": true, "streamlit": true, "gradio": true,
}

// Processes the harness itself may be running under. Killing them by bare
// name takes the whole run down, so they need -f with a specific script.
var pkillProtected = map[string]bool{
	"python": true, "python3": true, "python.exe": true, "python3.exe": true,
	"node": true, "node.exe": true,
}

// validatePkill allows killing dev servers by name, and protected runtimes
// only via -f "<runtime> <script>".
func validatePkill(command string) Decision {
	tokens, err := splitTokens(command)
	if err != nil {
		return Decision{Allowed: false, Reason: "could not parse pkill command"}
	}
	if len(tokens) == 0 {
		return Decision{Allowed: false, Reason: "empty pkill command"}
	}

	hasF := false
	var args []string
	for _, t := range tokens[1:] {
		if t == "-f" {
			hasF = true
		}
		if !strings.HasPrefix(t, "-") {
			args = append(args, t)
		}
	}
	if len(args) == 0 {
		return Decision{Allowed: false, Reason: "pkill requires a process name"}
	}

	target := args[len(args)-1]
	targetLower := strings.ToLower(target)

	if hasF && strings.Contains(target, " ") {
		parts := strings.SplitN(target, " ", 2)
		base := strings.ToLower(parts[0])
		if pkillProtected[base] {
			if len(parts) > 1 && strings.TrimSpace(parts[1]) != "" {
				return Decision{Allowed: true}
			}
			return Decision{Allowed: false, Reason: fmt.Sprintf("'pkill -f %s' requires a script name (e.g. 'pkill -f \"%s app.py\"')", base, base)}
		}
	}

	if pkillProtected[targetLower] {
		return Decision{Allowed: false, Reason: fmt.Sprintf("'pkill %s' would kill the harness itself; use 'pkill -f \"%s your_script.py\"' to target a specific process", target, target)}
	}
	if pkillAlwaysAllowed[targetLower] {
		return Decision{Allowed: true}
	}
	if hasF {
		return Decision{Allowed: true}
	}
	return Decision{Allowed: false, Reason: fmt.Sprintf("pkill only allowed for dev server processes or with -f for specific scripts. Allowed: %s", joinSorted(pkillAlwaysAllowed))}
}

var taskkillAlwaysAllowed = map[string]bool{
	"vite.exe": true, "vite.cmd": true,
	"next.exe": true, "next.cmd": true,
	"webpack.exe": true, "webpack.cmd": true,
	"esbuild.exe": true, "esbuild.cmd": true,
	"parcel.exe": true, "parcel.cmd": true,
	"rollup.exe": true, "rollup.cmd": true,
	"tsc.exe": true, "tsc.cmd": true,
	"jest.exe": true, "jest.cmd": true,
	"vitest.exe": true, "vitest.cmd": true,
	"playwright.exe": true, "playwright.cmd": true,
	"cypress.exe": true, "cypress.cmd": true,
	"uvicorn.exe": true, "gunicorn.exe": true,
	"flask.exe": true, "streamlit.exe": true,
}

var taskkillProtected = map[string]bool{
	"python.exe": true, "python": true, "python3.exe": true, "pythonw.exe": true,
	"node.exe": true, "node": true,
	"npm.exe": true, "npm": true, "npm.cmd": true,
	"npx.exe": true, "npx": true, "npx.cmd": true,
}

// validateTaskkill mirrors validatePkill for Windows: /IM required, /PID
// denied, protected images need a /FI filter.
func validateTaskkill(command string) Decision {
	tokens, err := splitTokens(command)
	if err != nil {
		return Decision{Allowed: false, Reason: "could not parse taskkill command"}
	}
	if len(tokens) == 0 {
		return Decision{Allowed: false, Reason: "empty taskkill command"}
	}

	hasFilter := false
	processName := ""
	for i, t := range tokens {
		tl := strings.ToLower(t)
		if tl == "/fi" {
			hasFilter = true
		}
		if tl == "/im" && i+1 < len(tokens) {
			processName = strings.ToLower(tokens[i+1])
		}
	}

	if processName == "" {
		for _, t := range tokens {
			if strings.ToLower(t) == "/pid" {
				return Decision{Allowed: false, Reason: "taskkill by PID is not allowed; use /IM with a process name"}
			}
		}
		return Decision{Allowed: false, Reason: "taskkill must specify the process with /IM"}
	}

	if taskkillProtected[processName] {
		if hasFilter {
			return Decision{Allowed: true}
		}
		return Decision{Allowed: false, Reason: fmt.Sprintf("'taskkill /IM %s' would kill the harness itself; add a /FI filter to target specific processes", processName)}
	}
	if taskkillAlwaysAllowed[processName] {
		return Decision{Allowed: true}
	}
	return Decision{Allowed: false, Reason: fmt.Sprintf("taskkill only allowed for dev server processes. Allowed: %s", joinSorted(taskkillAlwaysAllowed))}
}

var chmodModeRe = regexp.MustCompile(`^[ugoa]*\+x$`)

// validateChmod permits only +x modes with no flags.
func validateChmod(command string) Decision {
	tokens, err := splitTokens(command)
	if err != nil {
		return Decision{Allowed: false, Reason: "could not parse chmod command"}
	}
	if len(tokens) == 0 || tokens[0] != "chmod" {
		return Decision{Allowed: false, Reason: "not a chmod command"}
	}

	mode := ""
	var files []string
	for _, t := range tokens[1:] {
		if strings.HasPrefix(t, "-") {
			return Decision{Allowed: false, Reason: "chmod flags are not allowed"}
		}
		if mode == "" {
			mode = t
		} else {
			files = append(files, t)
		}
	}
	if mode == "" {
		return Decision{Allowed: false, Reason: "chmod requires a mode"}
	}
	if len(files) == 0 {
		return Decision{Allowed: false, Reason: "chmod requires at least one file"}
	}
	if !chmodModeRe.MatchString(mode) {
		return Decision{Allowed: false, Reason: fmt.Sprintf("chmod only allowed with +x mode, got: %s", mode)}
	}
	return Decision{Allowed: true}
}

// validateInitScript permits project init scripts only, by exact name.
func (g *Gate) validateInitScript(command string) Decision {
	if g.windows {
		normalized := strings.ReplaceAll(command, "\\", "/")
		tokens, err := splitTokens(normalized)
		if err != nil || len(tokens) == 0 {
			return Decision{Allowed: false, Reason: "could not parse init script command"}
		}
		script := strings.ToLower(tokens[0])
		for _, name := range []string{"init.bat", "init.ps1"} {
			if script == name || script == "./"+name || strings.HasSuffix(script, "/"+name) {
				return Decision{Allowed: true}
			}
		}
		if script == "powershell" {
			for i, t := range tokens {
				if strings.ToLower(t) == "-file" && i+1 < len(tokens) {
					ps := strings.ToLower(tokens[i+1])
					if ps == "init.ps1" || ps == "./init.ps1" || strings.HasSuffix(ps, "/init.ps1") {
						return Decision{Allowed: true}
					}
				}
			}
		}
		return Decision{Allowed: false, Reason: fmt.Sprintf("only init.bat or init.ps1 allowed on Windows, got: %s", tokens[0])}
	}

	tokens, err := splitTokens(command)
	if err != nil || len(tokens) == 0 {
		return Decision{Allowed: false, Reason: "could not parse init script command"}
	}
	script := tokens[0]
	if script == "./init.sh" || strings.HasSuffix(script, "/init.sh") {
		return Decision{Allowed: true}
	}
	return Decision{Allowed: false, Reason: fmt.Sprintf("only ./init.sh is allowed, got: %s", script)}
}

// validateWrapper recurses into bash -c / sh -c / cmd /c / powershell
// -Command subcommands and validates them with the same rules.
func (g *Gate) validateWrapper(command string) Decision {
	tokens, err := splitTokens(command)
	if err != nil || len(tokens) == 0 {
		return Decision{Allowed: false, Reason: "could not parse wrapper command"}
	}
	wrapper := strings.ToLower(baseName(tokens[0]))

	lowerIndex := func(flag string) int {
		for i, t := range tokens {
			if strings.ToLower(t) == flag {
				return i
			}
		}
		return -1
	}

	switch wrapper {
	case "cmd":
		idx := lowerIndex("/c")
		if idx < 0 {
			idx = lowerIndex("/k")
		}
		if idx < 0 {
			return Decision{Allowed: false, Reason: "cmd requires /c or /k with a subcommand"}
		}
		if idx+1 >= len(tokens) {
			return Decision{Allowed: false, Reason: "cmd requires a subcommand after /c or /k"}
		}
		return g.checkString(strings.Join(tokens[idx+1:], " "))

	case "powershell":
		if lowerIndex("-file") >= 0 {
			return g.validateInitScript(command)
		}
		if idx := lowerIndex("-command"); idx >= 0 {
			if idx+1 >= len(tokens) {
				return Decision{Allowed: false, Reason: "powershell -Command requires a subcommand"}
			}
			return g.checkString(strings.Join(tokens[idx+1:], " "))
		}
		return Decision{Allowed: false, Reason: "powershell requires -File or -Command"}

	case "bash", "sh":
		idx := lowerIndex("-c")
		if idx < 0 {
			return Decision{Allowed: false, Reason: fmt.Sprintf("%s requires -c with a subcommand", wrapper)}
		}
		if idx+1 >= len(tokens) {
			return Decision{Allowed: false, Reason: fmt.Sprintf("%s -c requires a subcommand", wrapper)}
		}
		return g.checkString(strings.Join(tokens[idx+1:], " "))
	}
	return Decision{Allowed: false, Reason: fmt.Sprintf("unknown wrapper command: %s", wrapper)}
}

func joinSorted(set map[string]bool) string {
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
