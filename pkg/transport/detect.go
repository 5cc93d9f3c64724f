package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.bug.st/serial/enumerator"
)

// ErrNoPort means no serial adapter matching the stage controller's USB
// bridge was found.
var ErrNoPort = errors.New("no stage controller port found")

// The controller boards ship with WCH CH340-family USB bridges.
var (
	descPatterns = []string{"USB-SERIAL", "CH340", "CH341", "USB SERIAL"}
	knownVIDs    = []string{"1A86"} // WCH
)

// DetectPort scans the system serial ports for the stage controller's USB
// adapter and returns its device path.
func DetectPort() (string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return "", fmt.Errorf("enumerate ports: %w", err)
	}
	for _, p := range ports {
		if !p.IsUSB {
			continue
		}
		if matchesController(p.Product, p.VID) {
			return p.Name, nil
		}
	}
	return "", ErrNoPort
}

// ListCandidatePorts returns every USB serial port, controller matches
// first. Used by interactive setup when auto-detection is ambiguous.
func ListCandidatePorts() ([]string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerate ports: %w", err)
	}
	var matched, rest []string
	for _, p := range ports {
		if !p.IsUSB {
			continue
		}
		if matchesController(p.Product, p.VID) {
			matched = append(matched, p.Name)
		} else {
			rest = append(rest, p.Name)
		}
	}
	return append(matched, rest...), nil
}

func matchesController(product, vid string) bool {
	desc := strings.ToUpper(product)
	for _, pat := range descPatterns {
		if strings.Contains(desc, pat) {
			return true
		}
	}
	for _, known := range knownVIDs {
		if strings.EqualFold(vid, known) {
			return true
		}
	}
	return false
}

// ProbeFirmware opens the given port briefly and asks the firmware to
// identify itself (M115). Returns the raw identification line.
func ProbeFirmware(port string, baud int) (string, error) {
	t, err := Open(Config{Port: port, Baud: baud})
	if err != nil {
		return "", err
	}
	defer t.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	lines, err := t.SendAwait(ctx, "M115", 3*time.Second)
	if err != nil {
		return "", err
	}
	for _, line := range lines {
		if strings.Contains(strings.ToUpper(line), "FIRMWARE") {
			return line, nil
		}
	}
	if len(lines) > 0 {
		return lines[0], nil
	}
	return "", errors.New("no identification response")
}
