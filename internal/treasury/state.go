package treasury

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"survivald/internal/model"
)

// LoadState reads the treasury state from a JSON file. Returns a zero
// state if the file doesn't exist.
func LoadState(filePath string) (*model.TreasuryState, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return &model.TreasuryState{}, nil
		}
		return nil, err
	}
	var state model.TreasuryState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// SaveState writes the treasury state to a JSON file, creating the parent
// directory if needed.
func SaveState(filePath string, state *model.TreasuryState) error {
	state.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(filePath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(filePath, data, 0644)
}
