package linux

import (
	"os"
	"testing"

	"golang.org/x/sys/unix"

	"ocirt/config"
	rterrors "ocirt/errors"
)

func TestParseStartTime(t *testing.T) {
	tests := []struct {
		name    string
		stat    string
		want    uint64
		wantErr bool
	}{
		{
			name: "plain",
			stat: "1234 (sleep) S 1 1234 1234 0 -1 4194560 100 0 0 0 0 0 0 0 20 0 1 0 98765 5558272 200 18446744073709551615",
			want: 98765,
		},
		{
			name: "command with spaces and parens",
			stat: "42 (my (odd) cmd) R 1 42 42 0 -1 4194304 0 0 0 0 0 0 0 0 20 0 1 0 555 0 0",
			want: 555,
		},
		{name: "no command", stat: "42 sleep S 1", wantErr: true},
		{name: "truncated", stat: "42 (sleep) S 1 42", wantErr: true},
		{name: "not a number", stat: "1 (x) S 1 1 1 0 -1 0 0 0 0 0 0 0 0 0 20 0 1 0 abc 0", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseStartTime([]byte(tc.stat))
			if (err != nil) != tc.wantErr {
				t.Fatalf("parseStartTime error = %v, wantErr %v", err, tc.wantErr)
			}
			if got != tc.want {
				t.Errorf("parseStartTime = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestStartTimeSelf(t *testing.T) {
	a, err := StartTime(CurrentPid())
	if err != nil {
		t.Fatal(err)
	}
	b, err := StartTime(CurrentPid())
	if err != nil {
		t.Fatal(err)
	}
	if a == 0 || a != b {
		t.Errorf("start time unstable: %d, %d", a, b)
	}
}

func TestSetPersonalityUnknownFlag(t *testing.T) {
	err := SetPersonality(&config.LinuxPersonality{Domain: config.PerLinux, Flags: []string{"NOT_A_FLAG"}})
	if !rterrors.IsKind(err, rterrors.ErrInvalidValue) {
		t.Errorf("got %v, want InvalidValue", err)
	}
	if err := SetPersonality(nil); err != nil {
		t.Errorf("SetPersonality(nil) = %v", err)
	}
}

func TestSetRlimitsRaisesNothingUnprivileged(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("root may raise hard limits")
	}
	err := SetRlimits([]config.POSIXRlimit{{Type: config.RlimitType(unix.RLIMIT_NOFILE), Hard: 1 << 40, Soft: 1 << 40}})
	if !rterrors.IsKind(err, rterrors.ErrInternal) {
		t.Errorf("got %v, want an error raising the hard limit", err)
	}
}

func TestSetOOMScoreAdjNil(t *testing.T) {
	if err := SetOOMScoreAdj(nil); err != nil {
		t.Errorf("SetOOMScoreAdj(nil) = %v", err)
	}
}

func TestExited(t *testing.T) {
	self := CurrentPid()
	start, err := StartTime(self)
	if err != nil {
		t.Fatal(err)
	}
	if Exited(self, start) {
		t.Error("Exited(self) = true")
	}
	if Exited(self, 0) {
		t.Error("Exited(self, 0) = true")
	}
	if !Exited(self, start+1) {
		t.Error("a different start time should count as exited")
	}
	if !Exited(0, 0) {
		t.Error("Exited(0) = false")
	}
}

func TestParseStatState(t *testing.T) {
	line := []byte("42 (a) b) Z 1 42 42 0 -1 4194560 0 0 0 0 0 0 0 0 20 0 1 0 777 0 0")
	state, start, err := parseStat(line)
	if err != nil {
		t.Fatal(err)
	}
	if state != 'Z' || start != 777 {
		t.Errorf("parseStat = %c, %d, want Z, 777", state, start)
	}
}
