package routeros

import (
	"reflect"
	"testing"
)

func TestFilterDevices_DynamicAndEnabledOnly(t *testing.T) {
	rows := []Row{
		{"address": "192.168.1.10", "mac-address": "AA:BB:CC:DD:EE:FF", "interface": "ether1", "dynamic": "true", "disabled": "false"},
		{"address": "192.168.1.11", "mac-address": "AA:BB:CC:DD:EE:00", "interface": "ether1", "dynamic": "false", "disabled": "false"},
		{"address": "192.168.1.12", "mac-address": "AA:BB:CC:DD:EE:11", "interface": "ether1", "dynamic": "true", "disabled": "true"},
		{"address": "10.0.0.1", "mac-address": "00:11:22:33:44:55", "interface": "bridge", "dynamic": true, "disabled": false},
	}

	got, stats := FilterDevices(rows)
	want := []Device{
		{IP: "192.168.1.10", MAC: "aa:bb:cc:dd:ee:ff", Interface: "ether1", Dynamic: true, Enabled: true},
		{IP: "10.0.0.1", MAC: "00:11:22:33:44:55", Interface: "bridge", Dynamic: true, Enabled: true},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("FilterDevices = %+v, want %+v", got, want)
	}
	if stats.Total != 4 || stats.Inactive != 2 || stats.Malformed != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestFilterDevices_MalformedRowSkipped(t *testing.T) {
	rows := []Row{
		{"address": "10.0.0.1", "mac-address": "00:00:00:00:00:01", "dynamic": true, "disabled": false},
		{"address": "10.0.0.2", "mac-address": "00:00:00:00:00:02", "dynamic": true, "disabled": false},
		{"mac-address": "00:00:00:00:00:03", "dynamic": true, "disabled": false}, // no address
		{"address": "10.0.0.4", "mac-address": "00:00:00:00:00:04", "dynamic": true, "disabled": false},
		{"address": "10.0.0.5", "mac-address": "00:00:00:00:00:05", "dynamic": true, "disabled": false},
	}

	got, stats := FilterDevices(rows)
	if len(got) != 4 {
		t.Fatalf("expected 4 devices, got %d", len(got))
	}
	if stats.Malformed != 1 {
		t.Errorf("Malformed = %d, want 1", stats.Malformed)
	}
	for i, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.4", "10.0.0.5"} {
		if got[i].IP != ip {
			t.Errorf("device %d IP = %q, want %q (order must be preserved)", i, got[i].IP, ip)
		}
	}
}

func TestFilterDevices_MissingMAC(t *testing.T) {
	rows := []Row{
		{"address": "10.0.0.1", "dynamic": true, "disabled": false},
		{"address": "10.0.0.2", "mac-address": "", "dynamic": true, "disabled": false},
		{"address": "10.0.0.3", "mac-address": 17.0, "dynamic": true, "disabled": false},
	}
	got, stats := FilterDevices(rows)
	if len(got) != 0 || stats.Malformed != 3 {
		t.Errorf("got %d devices, stats %+v; want 0 devices and 3 malformed", len(got), stats)
	}
}

func TestFilterDevices_EnabledFieldAndFallbacks(t *testing.T) {
	tests := []struct {
		name string
		row  Row
		keep bool
	}{
		{"enabled true", Row{"enabled": true}, true},
		{"enabled string yes", Row{"enabled": "yes"}, true},
		{"enabled false", Row{"enabled": "false"}, false},
		{"enabled wins over disabled", Row{"enabled": "true", "disabled": "true"}, true},
		{"disabled no", Row{"disabled": "no"}, true},
		{"disabled unknown", Row{"disabled": "n/a"}, false},
		{"no flag at all", Row{}, false},
		{"dynamic unknown", Row{"disabled": false, "dynamic": "perhaps"}, false},
		{"ip-address field", Row{"disabled": false, "address": nil, "ip-address": "10.1.1.1"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := Row{"address": "10.1.1.1", "mac-address": "aa:aa:aa:aa:aa:aa", "dynamic": "true"}
			for k, v := range tt.row {
				row[k] = v
			}
			got, _ := FilterDevices([]Row{row})
			if (len(got) == 1) != tt.keep {
				t.Errorf("kept = %v, want %v", len(got) == 1, tt.keep)
			}
			for _, d := range got {
				if !d.Dynamic || !d.Enabled {
					t.Errorf("filtered device must be dynamic and enabled: %+v", d)
				}
			}
		})
	}
}

func TestFilterDevices_EncodingChangeAcrossPolls(t *testing.T) {
	poll1 := []Row{{"address": "10.0.0.1", "mac-address": "AA:00:00:00:00:01", "interface": "ether2", "dynamic": true, "enabled": true}}
	poll2 := []Row{{"address": "10.0.0.1", "mac-address": "AA:00:00:00:00:01", "interface": "ether2", "dynamic": "true", "enabled": "true"}}

	first, _ := FilterDevices(poll1)
	second, _ := FilterDevices(poll2)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("poll 1 %+v != poll 2 %+v", first, second)
	}
}

func TestDiffDevices(t *testing.T) {
	a := Device{IP: "10.0.0.1", MAC: "aa"}
	b := Device{IP: "10.0.0.2", MAC: "bb"}
	c := Device{IP: "10.0.0.3", MAC: "cc"}
	moved := Device{IP: "10.0.0.9", MAC: "aa"} // same MAC, new IP

	joined, left := DiffDevices([]Device{a, b}, []Device{b, c, moved})
	if !reflect.DeepEqual(joined, []Device{c, moved}) {
		t.Errorf("joined = %+v", joined)
	}
	if !reflect.DeepEqual(left, []Device{a}) {
		t.Errorf("left = %+v", left)
	}

	joined, left = DiffDevices([]Device{a}, []Device{a})
	if len(joined) != 0 || len(left) != 0 {
		t.Errorf("identical lists should not differ: joined=%v left=%v", joined, left)
	}
}
