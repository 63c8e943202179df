// Package validator implements the configuration-time validation rules from
// the transport's external interface: hostnames, IP literals, ports, and
// serial framing parameters. Every exported function returns a classified
// errorhandler.ErrorInfo so the builder can fail synchronously, before any
// descriptor is touched, with a reportable error.
package validator

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/unilink/unilink-go/errorhandler"
)

const component = "validator"

func configErr(operation, message string) error {
	return errorhandler.ErrorInfo{
		Level:     errorhandler.Error,
		Category:  errorhandler.Configuration,
		Component: component,
		Operation: operation,
		Message:   message,
		Retryable: false,
	}
}

var hostnameLabel = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?$`)

// ValidateHostname checks host against RFC 1123: each dot-separated label is
// 1-63 characters of letters, digits and hyphens (no leading/trailing
// hyphen), and the total length does not exceed 253 characters. An IPv4 or
// IPv6 literal is also accepted.
func ValidateHostname(host string) error {
	if host == "" {
		return configErr("ValidateHostname", "hostname must not be empty")
	}

	if ValidateIPv4(host) == nil || ValidateIPv6(host) == nil {
		return nil
	}

	if len(host) > 253 {
		return configErr("ValidateHostname", fmt.Sprintf("hostname %q exceeds 253 characters", host))
	}

	labels := strings.Split(host, ".")
	for _, label := range labels {
		if !hostnameLabel.MatchString(label) {
			return configErr("ValidateHostname", fmt.Sprintf("hostname %q has invalid label %q", host, label))
		}
	}

	return nil
}

// ValidateIPv4 checks addr is a four-octet IPv4 literal, each octet 0-255
// with no leading zeros (other than the literal octet "0" itself).
func ValidateIPv4(addr string) error {
	parts := strings.Split(addr, ".")
	if len(parts) != 4 {
		return configErr("ValidateIPv4", fmt.Sprintf("%q is not a four-octet IPv4 address", addr))
	}

	for _, part := range parts {
		if part == "" || (len(part) > 1 && part[0] == '0') {
			return configErr("ValidateIPv4", fmt.Sprintf("%q has a malformed octet %q", addr, part))
		}

		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || n > 255 {
			return configErr("ValidateIPv4", fmt.Sprintf("%q has an out-of-range octet %q", addr, part))
		}
	}

	return nil
}

// ValidateIPv6 checks addr against the basic colon-separated hextet form,
// including the "::" zero-run shorthand (at most one per address).
func ValidateIPv6(addr string) error {
	if addr == "" {
		return configErr("ValidateIPv6", "address must not be empty")
	}

	if strings.Count(addr, "::") > 1 {
		return configErr("ValidateIPv6", fmt.Sprintf("%q has more than one '::'", addr))
	}

	working := addr
	collapsed := strings.Contains(working, "::")
	working = strings.ReplaceAll(working, "::", ":")
	working = strings.Trim(working, ":")

	if working == "" {
		if collapsed {
			return nil
		}

		return configErr("ValidateIPv6", fmt.Sprintf("%q is empty", addr))
	}

	hextets := strings.Split(working, ":")
	if !collapsed && len(hextets) != 8 {
		return configErr("ValidateIPv6", fmt.Sprintf("%q does not have 8 hextets", addr))
	}

	if collapsed && len(hextets) > 8 {
		return configErr("ValidateIPv6", fmt.Sprintf("%q has too many hextets for a collapsed address", addr))
	}

	for _, h := range hextets {
		if len(h) == 0 || len(h) > 4 {
			return configErr("ValidateIPv6", fmt.Sprintf("%q has a malformed hextet %q", addr, h))
		}

		if _, err := strconv.ParseUint(h, 16, 16); err != nil {
			return configErr("ValidateIPv6", fmt.Sprintf("%q has a non-hex hextet %q", addr, h))
		}
	}

	return nil
}

// ValidatePort checks port is in the range 1-65535; port 0 is rejected.
func ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return configErr("ValidatePort", fmt.Sprintf("port %d is out of range 1..65535", port))
	}

	return nil
}

// ValidateBaudRate checks baud is in the range 50-4,000,000.
func ValidateBaudRate(baud int) error {
	if baud < 50 || baud > 4_000_000 {
		return configErr("ValidateBaudRate", fmt.Sprintf("baud rate %d is out of range 50..4000000", baud))
	}

	return nil
}

// ValidateDataBits checks bits is in the range 5-8.
func ValidateDataBits(bits int) error {
	if bits < 5 || bits > 8 {
		return configErr("ValidateDataBits", fmt.Sprintf("data bits %d is out of range 5..8", bits))
	}

	return nil
}

// ValidateStopBits checks bits is 1 or 2.
func ValidateStopBits(bits int) error {
	if bits != 1 && bits != 2 {
		return configErr("ValidateStopBits", fmt.Sprintf("stop bits %d must be 1 or 2", bits))
	}

	return nil
}

// ValidateParity checks parity is, case-insensitively, one of
// "none", "odd", "even".
func ValidateParity(parity string) error {
	switch strings.ToLower(parity) {
	case "none", "odd", "even":
		return nil
	default:
		return configErr("ValidateParity", fmt.Sprintf("parity %q must be none, odd, or even", parity))
	}
}

var (
	unixDevicePath  = regexp.MustCompile(`^/[A-Za-z0-9/_-]+$`)
	windowsComPort  = regexp.MustCompile(`^COM([1-9][0-9]{0,2})$`)
	windowsReserved = map[string]struct{}{
		"CON": {}, "PRN": {}, "AUX": {}, "NUL": {},
		"LPT1": {}, "LPT2": {}, "LPT3": {}, "LPT4": {},
		"LPT5": {}, "LPT6": {}, "LPT7": {}, "LPT8": {}, "LPT9": {},
		"COM1": {}, "COM2": {}, "COM3": {}, "COM4": {},
		"COM5": {}, "COM6": {}, "COM7": {}, "COM8": {}, "COM9": {},
	}
)

// ValidateDevicePath checks path is a Unix-style device path (begins with
// "/", containing only alphanumerics, "/", "_", "-"), a Windows COM port
// name "COM1".."COM255", or a Windows reserved device name.
func ValidateDevicePath(path string) error {
	if path == "" {
		return configErr("ValidateDevicePath", "device path must not be empty")
	}

	if strings.HasPrefix(path, "/") {
		if unixDevicePath.MatchString(path) {
			return nil
		}

		return configErr("ValidateDevicePath", fmt.Sprintf("device path %q has invalid characters", path))
	}

	upper := strings.ToUpper(path)
	if m := windowsComPort.FindStringSubmatch(upper); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n >= 1 && n <= 255 {
			return nil
		}

		return configErr("ValidateDevicePath", fmt.Sprintf("COM port %q is out of range COM1..COM255", path))
	}

	if _, ok := windowsReserved[upper]; ok {
		return nil
	}

	return configErr("ValidateDevicePath", fmt.Sprintf("device path %q is neither a Unix path nor a Windows device name", path))
}
