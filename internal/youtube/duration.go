package youtube

import (
	"fmt"
	"strings"
)

// ParseISODuration converts an ISO-8601 duration as returned by the Data API
// (for example "PT4M13S" or "P1DT2H") into whole seconds.
func ParseISODuration(s string) (int, error) {
	if !strings.HasPrefix(s, "P") {
		return 0, fmt.Errorf("invalid ISO-8601 duration %q", s)
	}

	rest := s[1:]
	datePart := rest
	timePart := ""
	if idx := strings.Index(rest, "T"); idx >= 0 {
		datePart = rest[:idx]
		timePart = rest[idx+1:]
	}
	if datePart == "" && timePart == "" {
		return 0, fmt.Errorf("empty ISO-8601 duration %q", s)
	}

	total := 0

	parse := func(part string, units map[byte]int) error {
		value := 0
		digits := false
		for i := 0; i < len(part); i++ {
			c := part[i]
			if c >= '0' && c <= '9' {
				value = value*10 + int(c-'0')
				digits = true
				continue
			}
			factor, ok := units[c]
			if !ok || !digits {
				return fmt.Errorf("unexpected %q in ISO-8601 duration %q", string(c), s)
			}
			total += value * factor
			value = 0
			digits = false
		}
		if digits {
			return fmt.Errorf("trailing number without unit in ISO-8601 duration %q", s)
		}
		return nil
	}

	if err := parse(datePart, map[byte]int{'W': 7 * 86400, 'D': 86400}); err != nil {
		return 0, err
	}
	if err := parse(timePart, map[byte]int{'H': 3600, 'M': 60, 'S': 1}); err != nil {
		return 0, err
	}

	return total, nil
}
