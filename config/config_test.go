package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/sys/unix"

	rterrors "ocirt/errors"
)

const minimalConfig = `{
	"ociVersion": "1.0.2",
	"root": {"path": "rootfs"},
	"process": {"args": ["/bin/true"]}
}`

func TestParse_Minimal(t *testing.T) {
	s, err := Parse([]byte(minimalConfig))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if s.Process.Terminal {
		t.Error("terminal should default to false")
	}
	if s.Process.Cwd != "/" {
		t.Errorf("cwd = %q, want /", s.Process.Cwd)
	}
	if s.Root.Readonly {
		t.Error("readonly should default to false")
	}

	// Collections are empty, never nil.
	if s.Mounts == nil || s.Annotations == nil || s.Process.Env == nil || s.Process.Rlimits == nil {
		t.Error("top-level collections must default to empty")
	}
	if s.Linux == nil || s.Linux.Namespaces == nil || s.Linux.Devices == nil || s.Linux.Sysctl == nil {
		t.Fatal("linux collections must default to empty")
	}
	if s.Linux.Resources == nil || s.Linux.Resources.Unified == nil || s.Linux.Resources.Rdma == nil {
		t.Error("resources must default to empty")
	}
	if s.Hooks == nil || s.Hooks.CreateRuntime == nil || s.Hooks.Poststop == nil {
		t.Error("hooks must default to empty lists")
	}
}

func TestParse_Full(t *testing.T) {
	doc := `{
		"ociVersion": "1.0.2",
		"root": {"path": "/var/lib/rootfs", "readonly": true},
		"hostname": "web",
		"process": {
			"terminal": true,
			"cwd": "/srv",
			"args": ["nginx", "-g", "daemon off;"],
			"env": ["PATH=/usr/bin"],
			"user": {"uid": 1000, "gid": 1000, "umask": 18, "additionalGids": [10]},
			"capabilities": {
				"bounding": ["CAP_NET_BIND_SERVICE", "CAP_FUTURE"],
				"effective": ["CAP_NET_BIND_SERVICE"]
			},
			"rlimits": [{"type": "RLIMIT_NOFILE", "soft": 1024, "hard": 4096}],
			"noNewPrivileges": true,
			"oomScoreAdj": 100
		},
		"mounts": [
			{"destination": "/proc", "type": "proc", "source": "proc"},
			{"destination": "/data", "source": "/srv/data", "options": ["rbind", "ro"]}
		],
		"hooks": {
			"prestart": [{"path": "/usr/bin/legacy"}],
			"createRuntime": [{"path": "/usr/bin/net-setup", "args": ["net-setup", "up"], "timeout": 5}]
		},
		"annotations": {"org.example/owner": "ops"},
		"linux": {
			"namespaces": [{"type": "pid"}, {"type": "net", "path": "/run/netns/web"}, {"type": "mount"}],
			"devices": [{"path": "/dev/fuse", "type": "c", "major": 10, "minor": 229}],
			"resources": {
				"memory": {"limit": 536870912},
				"cpu": {"shares": 512, "quota": 50000, "period": 100000},
				"pids": {"limit": 64},
				"hugepageLimits": [{"pageSize": "2MB", "limit": 209715200}],
				"unified": {"memory.high": "400M"}
			},
			"seccomp": {
				"defaultAction": "SCMP_ACT_ERRNO",
				"architectures": ["SCMP_ARCH_X86_64", "SCMP_ARCH_X86"],
				"syscalls": [{"names": ["read", "write"], "action": "SCMP_ACT_ALLOW"}]
			},
			"rootfsPropagation": "rslave",
			"personality": {"domain": "LINUX32"}
		}
	}`

	s, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if got := s.Linux.Namespaces[1].Type; got != NetworkNamespace {
		t.Errorf("net alias decoded as %q", got)
	}
	if flags := s.Linux.Namespaces.CloneFlags(); flags != unix.CLONE_NEWPID|unix.CLONE_NEWNS {
		t.Errorf("clone flags = %#x", flags)
	}
	if joins := s.Linux.Namespaces.Joins(); len(joins) != 1 || joins[0].Path != "/run/netns/web" {
		t.Errorf("joins = %+v", joins)
	}

	caps := s.Process.Capabilities
	if len(caps.Bounding) != 2 || caps.Bounding[1] != CapUnknown {
		t.Errorf("bounding = %v", caps.Bounding)
	}
	if caps.Unknown() != 1 {
		t.Errorf("Unknown() = %d, want 1", caps.Unknown())
	}
	if caps.Ambient == nil {
		t.Error("ambient set should default to empty")
	}

	if s.Process.Rlimits[0].Type != unix.RLIMIT_NOFILE {
		t.Errorf("rlimit type = %v", s.Process.Rlimits[0].Type)
	}

	if len(s.Hooks.CreateRuntime) != 2 || s.Hooks.CreateRuntime[0].Path != "/usr/bin/legacy" {
		t.Errorf("prestart hooks should run first with createRuntime: %+v", s.Hooks.CreateRuntime)
	}
	if s.Hooks.Prestart != nil {
		t.Error("prestart should be folded into createRuntime")
	}

	if !s.Mounts[1].IsBind() {
		t.Error("rbind mount should be a bind mount")
	}
	if s.Linux.Devices[0].Type.Mode() != unix.S_IFCHR {
		t.Error("device type c should map to S_IFCHR")
	}
	if s.Linux.RootfsPropagation.Flags() != unix.MS_SLAVE|unix.MS_REC {
		t.Error("rslave propagation flags")
	}
	if s.Linux.Personality.Domain.Value() != 0x0008 {
		t.Error("LINUX32 persona")
	}
	if got := s.RootfsPath("/bundle"); got != "/var/lib/rootfs" {
		t.Errorf("RootfsPath = %q", got)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		kind rterrors.ErrorKind
		want string
	}{
		{
			name: "syntax",
			doc:  `{"ociVersion": `,
			kind: rterrors.ErrMalformedConfig,
		},
		{
			name: "wrong type",
			doc:  `{"ociVersion": "1.0.2", "root": {"path": "rootfs"}, "process": {"args": "sh"}}`,
			kind: rterrors.ErrMalformedConfig,
			want: "process.args",
		},
		{
			name: "missing version",
			doc:  `{"root": {"path": "rootfs"}, "process": {"args": ["sh"]}}`,
			kind: rterrors.ErrMalformedConfig,
			want: "ociVersion",
		},
		{
			name: "missing root",
			doc:  `{"ociVersion": "1.0.2", "process": {"args": ["sh"]}}`,
			kind: rterrors.ErrMalformedConfig,
			want: "root.path",
		},
		{
			name: "empty args",
			doc:  `{"ociVersion": "1.0.2", "root": {"path": "rootfs"}, "process": {"args": []}}`,
			kind: rterrors.ErrMalformedConfig,
		},
		{
			name: "unknown namespace",
			doc:  `{"ociVersion": "1.0.2", "root": {"path": "r"}, "process": {"args": ["sh"]}, "linux": {"namespaces": [{"type": "bogus"}]}}`,
			kind: rterrors.ErrInvalidValue,
			want: "bogus",
		},
		{
			name: "time namespace",
			doc:  `{"ociVersion": "1.0.2", "root": {"path": "r"}, "process": {"args": ["sh"]}, "linux": {"namespaces": [{"type": "time"}]}}`,
			kind: rterrors.ErrUnsupported,
		},
		{
			name: "lower-case rlimit",
			doc:  `{"ociVersion": "1.0.2", "root": {"path": "r"}, "process": {"args": ["sh"], "rlimits": [{"type": "rlimit_nofile", "soft": 1, "hard": 1}]}}`,
			kind: rterrors.ErrInvalidValue,
			want: "RLIMIT_NOFILE",
		},
		{
			name: "duplicate rlimit",
			doc:  `{"ociVersion": "1.0.2", "root": {"path": "r"}, "process": {"args": ["sh"], "rlimits": [{"type": "RLIMIT_CORE", "soft": 1, "hard": 1}, {"type": "RLIMIT_CORE", "soft": 2, "hard": 2}]}}`,
			kind: rterrors.ErrInvalidValue,
			want: "RLIMIT_CORE",
		},
		{
			name: "duplicate namespace via alias",
			doc:  `{"ociVersion": "1.0.2", "root": {"path": "r"}, "process": {"args": ["sh"]}, "linux": {"namespaces": [{"type": "net"}, {"type": "network"}]}}`,
			kind: rterrors.ErrInvalidValue,
		},
		{
			name: "mappings without user namespace",
			doc:  `{"ociVersion": "1.0.2", "root": {"path": "r"}, "process": {"args": ["sh"]}, "linux": {"uidMappings": [{"containerID": 0, "hostID": 1000, "size": 1}]}}`,
			kind: rterrors.ErrInvalidValue,
		},
		{
			name: "seccomp action",
			doc:  `{"ociVersion": "1.0.2", "root": {"path": "r"}, "process": {"args": ["sh"]}, "linux": {"seccomp": {"defaultAction": "SCMP_ACT_NOPE"}}}`,
			kind: rterrors.ErrInvalidValue,
			want: "SCMP_ACT_ALLOW",
		},
		{
			name: "seccomp arch",
			doc:  `{"ociVersion": "1.0.2", "root": {"path": "r"}, "process": {"args": ["sh"]}, "linux": {"seccomp": {"defaultAction": "SCMP_ACT_ALLOW", "architectures": ["SCMP_ARCH_Z80"]}}}`,
			kind: rterrors.ErrInvalidValue,
		},
		{
			name: "seccomp operator",
			doc:  `{"ociVersion": "1.0.2", "root": {"path": "r"}, "process": {"args": ["sh"]}, "linux": {"seccomp": {"defaultAction": "SCMP_ACT_ALLOW", "syscalls": [{"names": ["kill"], "action": "SCMP_ACT_ERRNO", "args": [{"index": 1, "value": 9, "op": "SCMP_CMP_ABOUT"}]}]}}}`,
			kind: rterrors.ErrInvalidValue,
		},
		{
			name: "notify without listener",
			doc:  `{"ociVersion": "1.0.2", "root": {"path": "r"}, "process": {"args": ["sh"]}, "linux": {"seccomp": {"defaultAction": "SCMP_ACT_NOTIFY"}}}`,
			kind: rterrors.ErrInvalidValue,
		},
		{
			name: "relative hook",
			doc:  `{"ociVersion": "1.0.2", "root": {"path": "r"}, "process": {"args": ["sh"]}, "hooks": {"poststop": [{"path": "cleanup"}]}}`,
			kind: rterrors.ErrInvalidValue,
		},
		{
			name: "device kind",
			doc:  `{"ociVersion": "1.0.2", "root": {"path": "r"}, "process": {"args": ["sh"]}, "linux": {"devices": [{"path": "/dev/x", "type": "z", "major": 1, "minor": 1}]}}`,
			kind: rterrors.ErrInvalidValue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if err == nil {
				t.Fatal("expected error")
			}
			if !rterrors.IsKind(err, tt.kind) {
				t.Errorf("error %v has kind %v, want %v", err, kindOf(err), tt.kind)
			}
			if tt.want != "" && !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func kindOf(err error) rterrors.ErrorKind {
	k, _ := rterrors.GetKind(err)
	return k
}

func TestLoad(t *testing.T) {
	bundle := t.TempDir()

	if _, _, err := Load(bundle); !rterrors.IsKind(err, rterrors.ErrMalformedConfig) {
		t.Errorf("Load without config.json: %v", err)
	}

	if err := os.WriteFile(filepath.Join(bundle, ConfigFile), []byte(minimalConfig), 0o644); err != nil {
		t.Fatal(err)
	}
	s, raw, err := Load(bundle)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if string(raw) != minimalConfig {
		t.Error("Load should return the raw document")
	}
	if got := s.RootfsPath(bundle); got != filepath.Join(bundle, "rootfs") {
		t.Errorf("RootfsPath = %q", got)
	}
}

func TestDefault_RoundTrip(t *testing.T) {
	for name, s := range map[string]*Spec{"default": Default(), "rootless": Rootless()} {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			if err := s.Save(filepath.Join(dir, ConfigFile)); err != nil {
				t.Fatalf("Save: %v", err)
			}
			loaded, _, err := Load(dir)
			if err != nil {
				t.Fatalf("generated config does not parse: %v", err)
			}
			if len(loaded.Linux.Namespaces) != len(s.Linux.Namespaces) {
				t.Errorf("namespaces: got %d, want %d", len(loaded.Linux.Namespaces), len(s.Linux.Namespaces))
			}
			for i, ns := range s.Linux.Namespaces {
				if loaded.Linux.Namespaces[i].Type != ns.Type {
					t.Errorf("namespace %d: %q != %q", i, loaded.Linux.Namespaces[i].Type, ns.Type)
				}
			}
			for i, c := range s.Process.Capabilities.Bounding {
				if loaded.Process.Capabilities.Bounding[i] != c {
					t.Errorf("capability %d: %v != %v", i, loaded.Process.Capabilities.Bounding[i], c)
				}
			}
			if loaded.Process.Rlimits[0] != s.Process.Rlimits[0] {
				t.Errorf("rlimit %+v != %+v", loaded.Process.Rlimits[0], s.Process.Rlimits[0])
			}
		})
	}
}

func TestRootless(t *testing.T) {
	s := Rootless()
	if !s.UserNamespaced() {
		t.Error("rootless config must request a user namespace")
	}
	if s.Linux.Namespaces.Has(NetworkNamespace) {
		t.Error("rootless config should share the host network")
	}
	for _, m := range s.Mounts {
		if m.Destination == "/sys/fs/cgroup" {
			t.Error("rootless config should not mount cgroupfs")
		}
		if m.Destination == "/sys" && !m.IsBind() {
			t.Error("rootless /sys must be a bind mount")
		}
	}
	if uint32(os.Getuid()) != s.Linux.UIDMappings[0].HostID {
		t.Error("uid mapping should map the calling user")
	}
}

func TestNewState(t *testing.T) {
	st := NewState("web", StatusRunning, 42, "/bundle", map[string]string{"a": "b"})
	if st.Version != Version || st.Pid != 42 || st.Status != "running" {
		t.Errorf("state = %+v", st)
	}

	st = NewState("web", StatusStopped, 42, "/bundle", nil)
	if st.Pid != 0 {
		t.Error("stopped state should not report a pid")
	}

	data, err := MarshalState(NewState("db", StatusCreated, 7, "/b", nil))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"ociVersion"`, `"id":"db"`, `"status":"created"`, `"pid":7`, `"bundle":"/b"`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("state JSON %s missing %s", data, want)
		}
	}
}
