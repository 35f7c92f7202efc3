package linux

import "testing"

func TestMountData(t *testing.T) {
	const lbl = "system_u:object_r:container_file_t:s0:c1,c2"
	tests := []struct {
		data, label, want string
	}{
		{"", "", ""},
		{"mode=755", "", "mode=755"},
		{"", lbl, `context="` + lbl + `"`},
		{"mode=755,size=65536k", lbl, `mode=755,size=65536k,context="` + lbl + `"`},
	}
	for _, tc := range tests {
		if got := MountData(tc.data, tc.label); got != tc.want {
			t.Errorf("MountData(%q, %q) = %q, want %q", tc.data, tc.label, got, tc.want)
		}
	}
}

func TestApplyExecLabelsEmpty(t *testing.T) {
	if err := ApplyExecLabels("", ""); err != nil {
		t.Errorf("ApplyExecLabels with no labels = %v", err)
	}
}
