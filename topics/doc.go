// Package topics provides MQTT topic-filter matching and routing for
// gray-logic-mqtt.
//
// This package manages:
//   - Wildcard-aware matching of topic names against topic filters
//   - Validation of topic names and filters per MQTT rules
//   - A routing trie mapping registered filters to local handlers
//
// # Wildcards
//
// Filters are segmented by '/' and may contain two wildcards:
//   - '+' matches exactly one topic level
//   - '#' matches all remaining levels and must be the final level
//
// Matching is case-sensitive and filters are never normalised: leading and
// trailing empty segments are real (empty-string) levels, exactly as the
// MQTT specification defines them.
//
// # Usage
//
//	trie := topics.NewTrie()
//	trie.Insert("graylogic/state/+", func(topic string, payload []byte) {
//	    log.Printf("state update on %s", topic)
//	})
//
//	if handler, ok := trie.Lookup("graylogic/state/light-living"); ok {
//	    handler("graylogic/state/light-living", payload)
//	}
package topics
