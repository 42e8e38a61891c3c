package config

import (
	"os"
	"strconv"
	"strings"
)

// PrinterCols returns the receipt character width.
//
// Set via env:
// - PRINTER_COLS=32 (58mm paper) or PRINTER_COLS=48 (80mm paper)
func PrinterCols() int {
	v := strings.TrimSpace(os.Getenv("PRINTER_COLS"))
	if n, err := strconv.Atoi(v); err == nil && (n == 32 || n == 48) {
		return n
	}
	return 32
}

// SequencePrefix is prepended to every issued business number.
//
// Set via env:
// - SEQUENCE_PREFIX=R
func SequencePrefix() string {
	return strings.TrimSpace(os.Getenv("SEQUENCE_PREFIX"))
}

// ScopeId is the tenant/owner boundary this device sells under.
//
// Set via env:
// - SCOPE_ID=<owner id>
func ScopeId() string {
	return strings.TrimSpace(os.Getenv("SCOPE_ID"))
}

// DeviceId identifies this counter device in logs and correlation ids.
func DeviceId() string {
	return strings.TrimSpace(os.Getenv("DEVICE_ID"))
}

// SideEffectsDisabled turns off fire-and-forget side effects (inventory
// decrement) for environments that post stock on the server.
//
// Set via env:
// - SIDE_EFFECTS_DISABLED=true
func SideEffectsDisabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("SIDE_EFFECTS_DISABLED")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
