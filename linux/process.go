package linux

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"

	"ocirt/config"
	rterrors "ocirt/errors"
)

// SetRlimits applies the configured resource limits to the calling process.
// Limits are inherited across execve.
func SetRlimits(rlimits []config.POSIXRlimit) error {
	for _, rl := range rlimits {
		lim := unix.Rlimit{Cur: rl.Soft, Max: rl.Hard}
		if err := unix.Prlimit(0, int(rl.Type), &lim, nil); err != nil {
			return rterrors.WrapWithDetail(err, rterrors.ErrInternal, "setrlimit",
				fmt.Sprintf("%s soft=%d hard=%d", rl.Type, rl.Soft, rl.Hard))
		}
	}
	return nil
}

// SetOOMScoreAdj writes the OOM killer adjustment of the calling process.
func SetOOMScoreAdj(adj *int) error {
	if adj == nil {
		return nil
	}
	if err := os.WriteFile("/proc/self/oom_score_adj", []byte(strconv.Itoa(*adj)), 0o644); err != nil {
		return rterrors.WrapWithDetail(err, rterrors.ErrInternal, "oom_score_adj", strconv.Itoa(*adj))
	}
	return nil
}

// personality(2) flags accepted in linux.personality.flags.
var personalityFlags = map[string]uintptr{
	"ADDR_NO_RANDOMIZE":  0x0040000,
	"MMAP_PAGE_ZERO":     0x0100000,
	"ADDR_COMPAT_LAYOUT": 0x0200000,
	"READ_IMPLIES_EXEC":  0x0400000,
	"ADDR_LIMIT_32BIT":   0x0800000,
	"SHORT_INODE":        0x1000000,
	"WHOLE_SECONDS":      0x2000000,
	"STICKY_TIMEOUTS":    0x4000000,
	"ADDR_LIMIT_3GB":     0x8000000,
}

// SetPersonality sets the execution domain of the calling process.
func SetPersonality(p *config.LinuxPersonality) error {
	if p == nil {
		return nil
	}
	persona := uintptr(p.Domain.Value())
	for _, f := range p.Flags {
		v, ok := personalityFlags[f]
		if !ok {
			return rterrors.New(rterrors.ErrInvalidValue, "personality", "unknown flag "+f)
		}
		persona |= v
	}
	if _, _, errno := unix.RawSyscall(unix.SYS_PERSONALITY, persona, 0, 0); errno != 0 {
		return rterrors.Wrap(errno, rterrors.ErrInternal, "personality")
	}
	return nil
}

// SetUser switches the calling process to the configured user: supplementary
// groups first, then gid, then uid. The umask is applied when set.
func SetUser(u config.User, setgroups bool) error {
	if setgroups {
		gids := make([]int, len(u.AdditionalGids))
		for i, g := range u.AdditionalGids {
			gids[i] = int(g)
		}
		if err := syscall.Setgroups(gids); err != nil {
			return rterrors.WrapWithDetail(err, rterrors.ErrInternal, "setgroups", fmt.Sprint(gids))
		}
	}
	if err := unix.Setresgid(int(u.GID), int(u.GID), int(u.GID)); err != nil {
		return rterrors.WrapWithDetail(err, rterrors.ErrInternal, "setgid", strconv.Itoa(int(u.GID)))
	}
	if err := unix.Setresuid(int(u.UID), int(u.UID), int(u.UID)); err != nil {
		return rterrors.WrapWithDetail(err, rterrors.ErrInternal, "setuid", strconv.Itoa(int(u.UID)))
	}
	if u.Umask != nil {
		unix.Umask(int(*u.Umask))
	}
	return nil
}

// SetsidAndControllingTerminal starts a new session and makes fd its
// controlling terminal.
func SetsidAndControllingTerminal(fd int) error {
	if _, err := unix.Setsid(); err != nil {
		return rterrors.Wrap(err, rterrors.ErrInternal, "setsid")
	}
	if err := unix.IoctlSetInt(fd, unix.TIOCSCTTY, 0); err != nil {
		return rterrors.Wrap(err, rterrors.ErrInternal, "ioctl TIOCSCTTY")
	}
	return nil
}

// StartTime returns the start time of pid in clock ticks since boot, field
// 22 of /proc/<pid>/stat. Together with the pid it identifies a process
// across pid reuse.
func StartTime(pid Pid) (uint64, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return 0, err
	}
	return parseStartTime(data)
}

func parseStartTime(stat []byte) (uint64, error) {
	_, start, err := parseStat(stat)
	return start, err
}

// parseStat returns the state letter and start time of a stat line.
func parseStat(stat []byte) (byte, uint64, error) {
	// The command name may contain spaces and parentheses; fields resume
	// after the last ')' with field 3.
	end := bytes.LastIndexByte(stat, ')')
	if end < 0 {
		return 0, 0, fmt.Errorf("malformed stat: no command name")
	}
	fields := bytes.Fields(stat[end+1:])
	if len(fields) < 20 {
		return 0, 0, fmt.Errorf("malformed stat: %d fields after command", len(fields))
	}
	start, err := strconv.ParseUint(string(fields[19]), 10, 64)
	if err != nil {
		return 0, 0, err
	}
	return fields[0][0], start, nil
}

// Exited reports whether pid no longer names the live process that started
// at startTime. A zombie has exited; so has a pid reused by another process.
// A zero startTime skips the identity check.
func Exited(pid Pid, startTime uint64) bool {
	if pid <= 0 {
		return true
	}
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return true
	}
	state, start, err := parseStat(data)
	if err != nil {
		return true
	}
	return state == 'Z' || state == 'X' || (startTime != 0 && start != startTime)
}
