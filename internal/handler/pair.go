package handler

import (
	"fmt"
	"net/url"
	"strings"

	"funbot/internal/content"
	kit "funbot/internal/transport"
)

// PairParams turns the arguments of a pair command into provider query
// parameters n1 and n2. Names come either from plain words or from mentions;
// mixing the two, or giving anything other than two names, is rejected.
func PairParams(args string, mentions []kit.Mention) (url.Values, error) {
	var names []string
	if len(mentions) > 0 {
		rest := args
		for _, m := range mentions {
			if m.Username != "" {
				rest = strings.Replace(rest, "@"+m.Username, "", 1)
			} else if m.DisplayName != "" {
				rest = strings.Replace(rest, m.DisplayName, "", 1)
			}
			names = append(names, m.Name())
		}
		if strings.TrimSpace(rest) != "" {
			return nil, fmt.Errorf("%w: names and mentions cannot be mixed", content.ErrInvalidArguments)
		}
	} else {
		names = strings.Fields(args)
	}

	if len(names) != 2 {
		return nil, fmt.Errorf("%w: want 2 names, got %d", content.ErrInvalidArguments, len(names))
	}
	if strings.EqualFold(names[0], names[1]) {
		return nil, fmt.Errorf("%w: %q", content.ErrDuplicateArguments, names[0])
	}
	return url.Values{"n1": {names[0]}, "n2": {names[1]}}, nil
}
