package topics

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Domain-specific errors for topic validation.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrEmptyTopic is returned when a topic name or filter is empty.
	ErrEmptyTopic = errors.New("topics: topic cannot be empty")

	// ErrWildcardInName is returned when a topic name (as opposed to a
	// filter) contains '+' or '#'.
	ErrWildcardInName = errors.New("topics: topic name cannot contain wildcards")

	// ErrBadWildcard is returned when a wildcard does not occupy a whole
	// level, or '#' is not the final level.
	ErrBadWildcard = errors.New("topics: malformed wildcard")

	// ErrBadEncoding is returned when a topic contains a NUL byte or is
	// not valid UTF-8.
	ErrBadEncoding = errors.New("topics: topic must be NUL-free UTF-8")
)

// Match reports whether topic matches filter.
//
// The filter may contain '+' (single-level) and '#' (multi-level) wildcards.
// A '#' level matches the remaining levels including none, so "sport/#"
// matches both "sport/tennis" and "sport" itself.
//
// Per MQTT-4.7.2-1, filters beginning with a wildcard never match topic
// names beginning with '$' (broker-internal topics such as "$SYS/...").
//
// Neither argument is validated here; call ValidateName or ValidateFilter
// first when the input comes from outside the process.
func Match(filter, topic string) bool {
	if strings.HasPrefix(topic, "$") &&
		(strings.HasPrefix(filter, "+") || strings.HasPrefix(filter, "#")) {
		return false
	}

	filterLevels := strings.Split(filter, levelSeparator)
	topicLevels := strings.Split(topic, levelSeparator)

	for i, level := range filterLevels {
		if level == multiLevelWildcard {
			return true
		}
		if i >= len(topicLevels) {
			return false
		}
		if level != singleLevelWildcard && level != topicLevels[i] {
			return false
		}
	}

	return len(filterLevels) == len(topicLevels)
}

// ValidateName checks that name is a legal MQTT topic name for publishing.
//
// Topic names must be non-empty, NUL-free UTF-8 and must not contain
// wildcard characters.
func ValidateName(name string) error {
	if name == "" {
		return ErrEmptyTopic
	}
	if err := validateEncoding(name); err != nil {
		return err
	}
	if strings.ContainsAny(name, singleLevelWildcard+multiLevelWildcard) {
		return fmt.Errorf("%w: %q", ErrWildcardInName, name)
	}
	return nil
}

// ValidateFilter checks that filter is a legal MQTT topic filter for
// subscribing.
//
// Filters must be non-empty, NUL-free UTF-8. A '+' must occupy an entire
// level; a '#' must occupy an entire level and must be the last level.
func ValidateFilter(filter string) error {
	if filter == "" {
		return ErrEmptyTopic
	}
	if err := validateEncoding(filter); err != nil {
		return err
	}

	levels := strings.Split(filter, levelSeparator)
	for i, level := range levels {
		if strings.Contains(level, singleLevelWildcard) && level != singleLevelWildcard {
			return fmt.Errorf("%w: '+' must occupy an entire level in %q", ErrBadWildcard, filter)
		}
		if strings.Contains(level, multiLevelWildcard) {
			if level != multiLevelWildcard {
				return fmt.Errorf("%w: '#' must occupy an entire level in %q", ErrBadWildcard, filter)
			}
			if i != len(levels)-1 {
				return fmt.Errorf("%w: '#' must be the final level in %q", ErrBadWildcard, filter)
			}
		}
	}
	return nil
}

// validateEncoding rejects NUL bytes and invalid UTF-8.
func validateEncoding(topic string) error {
	if strings.Contains(topic, "\x00") {
		return fmt.Errorf("%w: NUL byte in %q", ErrBadEncoding, topic)
	}
	if !utf8.ValidString(topic) {
		return fmt.Errorf("%w: invalid UTF-8", ErrBadEncoding)
	}
	return nil
}
