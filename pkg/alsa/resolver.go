// Package alsa resolves ALSA card identifiers from hardware enumeration
// output. Parsing is pure: the caller supplies the `aplay -l` text, which
// keeps resolution deterministic and testable without real hardware.
package alsa

import (
	"regexp"
	"strings"

	"github.com/openrig/rigup/pkg/provision"
)

// FallbackIdentifier is the card used when no line matches the requested
// pattern. Card 0 is the documented convention, chosen here and nowhere
// else.
const FallbackIdentifier = "0"

// cardLine matches ALSA playback-device lines of the form
// `card 2: Device [USB Composite Device], device 0: USB Audio`.
var cardLine = regexp.MustCompile(`^card (\d+):`)

// ResolveCard scans line-oriented enumeration output for a card line
// containing pattern and returns its index. Resolution never fails: an
// unmatched pattern yields the fallback descriptor with Matched false.
// Descriptors are produced fresh on every call and must not be cached
// across runs, because hardware may change between boots.
func ResolveCard(pattern, enumeration string) provision.DeviceDescriptor {
	if pattern == "" {
		return provision.DeviceDescriptor{Identifier: FallbackIdentifier, Matched: false}
	}

	for _, line := range strings.Split(enumeration, "\n") {
		m := cardLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if strings.Contains(line, pattern) {
			return provision.DeviceDescriptor{Identifier: m[1], Matched: true}
		}
	}

	return provision.DeviceDescriptor{Identifier: FallbackIdentifier, Matched: false}
}

// HardwareID renders the descriptor as the ALSA hw: device string that
// jackd's -d flag expects, e.g. "hw:2".
func HardwareID(d provision.DeviceDescriptor) string {
	return "hw:" + d.Identifier
}
