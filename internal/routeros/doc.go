// Package routeros is a client for the MikroTik RouterOS v7 REST API
// and the boundary where its loosely typed JSON becomes typed values.
//
// The REST layer encodes the same logical field differently across
// endpoints and firmware versions: booleans arrive as JSON booleans or
// as "true"/"yes" strings, and ARP rows expose either "enabled" or only
// "disabled". [NormalizeBool] and [FilterDevices] absorb those
// differences so callers work with [Device] and [LogEntry] only.
package routeros
