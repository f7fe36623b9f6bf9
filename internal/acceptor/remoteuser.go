package acceptor

import (
	"bufio"
	"os"
	"strconv"
	"strings"
)

// maxAncestryDepth bounds the parent-process walk so a malformed /proc
// entry (or a PID 1 whose own parent is itself) can never loop forever.
const maxAncestryDepth = 64

// isRemoteUser walks pid's process ancestry looking for a process whose
// name appears in remoteParentNames. This mirrors the reference
// implementation's acknowledged-weak heuristic: a determined local user can
// defeat it, but it catches the common case of a session opened through
// sshd or a similar remote-login daemon.
func isRemoteUser(pid int32, remoteParentNames map[string]struct{}) bool {
	current := pid
	for i := 0; i < maxAncestryDepth && current > 1; i++ {
		name, ppid, ok := processInfo(current)
		if !ok {
			return false
		}
		if _, found := remoteParentNames[name]; found {
			return true
		}
		current = ppid
	}
	return false
}

// processInfo reads comm and ppid for pid from /proc/<pid>/stat. Returns
// ok=false if the process no longer exists or the stat file can't be
// parsed.
func processInfo(pid int32) (name string, ppid int32, ok bool) {
	f, err := os.Open("/proc/" + strconv.Itoa(int(pid)) + "/stat")
	if err != nil {
		return "", 0, false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024), 4096)
	if !scanner.Scan() {
		return "", 0, false
	}
	line := scanner.Text()

	// comm is whitespace-delimited but may itself contain spaces; it is
	// always wrapped in the last pair of parentheses on the line.
	open := strings.IndexByte(line, '(')
	shut := strings.LastIndexByte(line, ')')
	if open < 0 || shut < 0 || shut <= open {
		return "", 0, false
	}
	name = line[open+1 : shut]

	fields := strings.Fields(line[shut+1:])
	if len(fields) < 2 {
		return "", 0, false
	}
	// fields[0] is state, fields[1] is ppid.
	parsed, err := strconv.ParseInt(fields[1], 10, 32)
	if err != nil {
		return "", 0, false
	}

	return name, int32(parsed), true
}
