package wrapper

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	// ErrEmptyConfig is returned for a supplied config blob that is empty or whitespace.
	ErrEmptyConfig = errors.New("empty configuration")
	// ErrInvalidConfig is returned for a blob that does not parse in its format.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// backupLayout is appended to the path of a replaced config file.
const backupLayout = "2006-01-02T15:04:05.000000"

// now is swapped in tests.
var now = time.Now

// ValidateYAML rejects blank blobs and blobs that are not YAML.
func ValidateYAML(content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: sisyphus_config", ErrEmptyConfig)
	}
	var doc any
	if err := yaml.Unmarshal([]byte(content), &doc); err != nil {
		return fmt.Errorf("%w: sisyphus_config: %w", ErrInvalidConfig, err)
	}
	return nil
}

// ValidateXML rejects blank blobs and blobs that are not well-formed XML.
func ValidateXML(content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: qc_config", ErrEmptyConfig)
	}
	dec := xml.NewDecoder(strings.NewReader(content))
	sawElement := false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: qc_config: %w", ErrInvalidConfig, err)
		}
		if _, ok := tok.(xml.StartElement); ok {
			sawElement = true
		}
	}
	if !sawElement {
		return fmt.Errorf("%w: qc_config has no root element", ErrInvalidConfig)
	}
	return nil
}

// WriteConfigFile writes content to path. An existing file is kept by renaming
// it to path.<timestamp> first.
func WriteConfigFile(path, content string) error {
	_, err := writeConfigFile(path, content)
	return err
}

// writeConfigFile is WriteConfigFile returning an undo that puts the previous
// file back, or removes the new one when there was none.
func writeConfigFile(path, content string) (func() error, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: %s", ErrEmptyConfig, path)
	}
	backup := ""
	if fi, err := os.Stat(path); err == nil && fi.Mode().IsRegular() {
		backup = path + "." + now().Format(backupLayout)
		slog.Debug("config file already exists, making backup copy", "path", path, "backup", backup)
		if err := os.Rename(path, backup); err != nil {
			return nil, fmt.Errorf("backup config file %s: %w", path, err)
		}
	}
	undo := func() error {
		if backup == "" {
			return os.Remove(path)
		}
		return os.Rename(backup, path)
	}
	slog.Debug("writing new config file", "path", path)
	// #nosec G306 -- the scripts run as another user and must read the file
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		if backup != "" {
			_ = undo()
		}
		return nil, fmt.Errorf("write config file %s: %w", path, err)
	}
	return undo, nil
}
