package routeros

import (
	"strings"
)

// Device is one active ARP entry: a host the router has recently
// resolved on a local interface.
type Device struct {
	IP        string `json:"ip"`
	MAC       string `json:"mac"` // lower-case, colon-separated
	Interface string `json:"interface"`
	Dynamic   bool   `json:"dynamic"`
	Enabled   bool   `json:"enabled"`
}

// Key is the identity used to compare devices across polls.
func (d Device) Key() string {
	return d.IP + "|" + d.MAC
}

// FilterStats counts the ARP rows FilterDevices did not return.
type FilterStats struct {
	Total     int // rows examined
	Malformed int // missing address or MAC
	Inactive  int // static, disabled, or status not confirmed
}

// FilterDevices reduces raw ARP rows to dynamic, enabled devices in
// input order. A row is kept only when both flags normalize to True;
// Unknown counts as not set. Rows without an address or MAC are
// skipped and counted rather than failing the batch.
//
// The address is read from "address" (RouterOS) or "ip-address". The
// enabled flag is read from "enabled" when present, otherwise from
// "disabled" with its polarity inverted.
func FilterDevices(rows []Row) ([]Device, FilterStats) {
	stats := FilterStats{Total: len(rows)}
	devices := make([]Device, 0, len(rows))

	for _, row := range rows {
		ip, ok := NormalizeString(row["address"])
		if !ok {
			ip, ok = NormalizeString(row["ip-address"])
		}
		mac, macOK := NormalizeString(row["mac-address"])
		if !ok || !macOK {
			stats.Malformed++
			continue
		}

		if !rowDynamic(row).IsTrue() || !rowEnabled(row).IsTrue() {
			stats.Inactive++
			continue
		}

		iface, _ := NormalizeString(row["interface"])
		devices = append(devices, Device{
			IP:        ip,
			MAC:       strings.ToLower(mac),
			Interface: iface,
			Dynamic:   true,
			Enabled:   true,
		})
	}
	return devices, stats
}

func rowDynamic(row Row) Bool {
	return NormalizeBool(row["dynamic"])
}

func rowEnabled(row Row) Bool {
	if raw, ok := row["enabled"]; ok {
		return NormalizeBool(raw)
	}
	if raw, ok := row["disabled"]; ok {
		return NormalizeBool(raw).Not()
	}
	return Unknown
}

// DiffDevices compares two device lists by Key. joined holds devices in
// cur but not prev (in cur order); left holds devices in prev but not
// cur (in prev order).
func DiffDevices(prev, cur []Device) (joined, left []Device) {
	before := make(map[string]struct{}, len(prev))
	for _, d := range prev {
		before[d.Key()] = struct{}{}
	}
	after := make(map[string]struct{}, len(cur))
	for _, d := range cur {
		after[d.Key()] = struct{}{}
		if _, ok := before[d.Key()]; !ok {
			joined = append(joined, d)
		}
	}
	for _, d := range prev {
		if _, ok := after[d.Key()]; !ok {
			left = append(left, d)
		}
	}
	return joined, left
}
