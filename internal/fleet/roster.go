package fleet

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// rosterFile 花名册持久化格式
type rosterFile struct {
	Chargers []ChargerConfig `json:"chargers"`
}

// LoadRoster 读取花名册文件，文件缺失视为空花名册
func LoadRoster(path string) ([]ChargerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read roster %s: %w", path, err)
	}

	var roster rosterFile
	if err := json.Unmarshal(data, &roster); err != nil {
		return nil, fmt.Errorf("failed to parse roster %s: %w", path, err)
	}
	return roster.Chargers, nil
}

// SaveRoster 原子写入花名册：先写临时文件再rename
func SaveRoster(path string, chargers []ChargerConfig) error {
	if chargers == nil {
		chargers = []ChargerConfig{}
	}
	data, err := json.MarshalIndent(rosterFile{Chargers: chargers}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal roster: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".roster-*.json")
	if err != nil {
		return fmt.Errorf("failed to create roster temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write roster temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close roster temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace roster file: %w", err)
	}
	return nil
}
