package mqtt

import "strings"

// Topic wildcards.
const (
	singleLevelWildcard = "+"
	multiLevelWildcard  = "#"
)

// validatePublishTopic reports whether topic can be published to.
// Wildcards are only meaningful in subscriptions.
func validatePublishTopic(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if strings.ContainsAny(topic, singleLevelWildcard+multiLevelWildcard) {
		return ErrWildcardTopic
	}
	return nil
}

// validateFilter checks a subscription filter: "+" must occupy a whole
// level and "#" must be the whole final level.
func validateFilter(filter string) error {
	if filter == "" {
		return ErrInvalidTopic
	}
	levels := strings.Split(filter, "/")
	for i, level := range levels {
		switch {
		case level == multiLevelWildcard:
			if i != len(levels)-1 {
				return ErrInvalidFilter
			}
		case level == singleLevelWildcard:
		case strings.ContainsAny(level, singleLevelWildcard+multiLevelWildcard):
			return ErrInvalidFilter
		}
	}
	return nil
}
