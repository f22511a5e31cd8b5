package linker

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadRoster reads the optional alias roster, a JSON object keyed by cast
// member slug with an array of extra aliases per entry. An empty path means
// no roster.
func LoadRoster(path string) (map[string][]string, error) {
	if path == "" {
		return nil, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading roster: %w", err)
	}

	var roster map[string][]string
	if err := json.Unmarshal(raw, &roster); err != nil {
		return nil, fmt.Errorf("parsing roster %s: %w", path, err)
	}

	return roster, nil
}
