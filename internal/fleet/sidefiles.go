package fleet

import (
	"os"
	"sort"
	"time"

	"github.com/goccy/go-json"
)

// Targets is the scout's published symbol list.
type Targets struct {
	Targets []string  `json:"targets"`
	Updated time.Time `json:"updated"`
}

// RegimeFile is the analyst's published regime, read by workers that only need
// the tag and not the whole fleet document.
type RegimeFile struct {
	Regime  RegimeTag `json:"regime"`
	ADX     float64   `json:"adx,omitempty"`
	Price   float64   `json:"price,omitempty"`
	MA      float64   `json:"ma,omitempty"`
	Updated time.Time `json:"updated"`
}

// WriteTargets publishes a de-duplicated, sorted target list.
func WriteTargets(path string, symbols []string, now time.Time) error {
	seen := make(map[string]struct{}, len(symbols))
	list := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if _, ok := seen[s]; ok || s == "" {
			continue
		}
		seen[s] = struct{}{}
		list = append(list, s)
	}
	sort.Strings(list)
	return writeJSON(path, Targets{Targets: list, Updated: now})
}

// ReadTargets loads the scout's target list.
func ReadTargets(path string) (Targets, error) {
	var t Targets
	err := readJSON(path, &t)
	return t, err
}

// WriteRegime publishes the regime side file.
func WriteRegime(path string, r RegimeFile) error {
	return writeJSON(path, r)
}

// ReadRegime loads the regime side file.
func ReadRegime(path string) (RegimeFile, error) {
	var r RegimeFile
	err := readJSON(path, &r)
	return r, err
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
