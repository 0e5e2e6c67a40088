// Package wrapper holds the per-variant launch policy for the Sisyphus scripts
// (QualityControl and QuickReport): target validation, config files written into
// the runfolder before launch, and the argument vector to run.
package wrapper

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/loykin/siswrap/internal/config"
	"github.com/loykin/siswrap/internal/process"
)

var (
	// ErrTargetNotFound means the runfolder does not exist as a directory.
	ErrTargetNotFound = errors.New("target not found")
	// ErrInvalidTarget means the runfolder name is empty or tries to escape the root.
	ErrInvalidTarget = errors.New("invalid target name")
)

// Fixed file names written into the runfolder.
const (
	SisyphusConfigFile = "sisyphus.yml"
	QCConfigFile       = "sisyphus_qc.xml"
)

// Params are the caller-supplied launch parameters. Nil config pointers mean
// "not supplied"; a supplied but blank config is rejected.
type Params struct {
	Target         string
	QCConfig       *string
	SisyphusConfig *string
}

// Variant is the per-kind policy the registry never needs to look into.
type Variant interface {
	Kind() process.Kind
	// BinaryKey is the configuration key naming the script to run.
	BinaryKey() string
	// Prelaunch validates supplied config blobs and writes them into runfolder.
	Prelaunch(runfolder string, p Params) error
	// Stop is a placeholder; running jobs cannot be cancelled.
	Stop() error
}

// ForKind returns the variant for kind.
func ForKind(kind process.Kind) (Variant, error) {
	switch kind {
	case process.KindQC:
		return QC{}, nil
	case process.KindReport:
		return Report{}, nil
	}
	return nil, fmt.Errorf("%w: %q", process.ErrUnknownKind, kind)
}

// Job is a fully prepared launch: everything the registry needs to spawn.
type Job struct {
	Kind      process.Kind
	Runfolder string
	Args      []string
}

// Name is the per-job label used for output log files.
func (j Job) Name() string {
	return string(j.Kind) + "-" + filepath.Base(j.Runfolder)
}

// Prepare resolves and validates the runfolder, runs the variant's pre-launch
// side effects, and builds the argument vector.
func Prepare(v Variant, s process.Settings, p Params) (Job, error) {
	target := strings.TrimSpace(p.Target)
	if !isSafeName(target) {
		return Job{}, fmt.Errorf("%w: %q", ErrInvalidTarget, p.Target)
	}
	root, err := s.Setting(config.KeyRunfolderRoot)
	if err != nil {
		return Job{}, err
	}
	runfolder := filepath.Join(root, target)
	if fi, err := os.Stat(runfolder); err != nil || !fi.IsDir() {
		return Job{}, fmt.Errorf("%w: no runfolder %s exists", ErrTargetNotFound, runfolder)
	}
	if err := v.Prelaunch(runfolder, p); err != nil {
		return Job{}, err
	}
	args, err := process.BuildArgs(s, v.BinaryKey(), runfolder)
	if err != nil {
		return Job{}, err
	}
	return Job{Kind: v.Kind(), Runfolder: runfolder, Args: args}, nil
}

type base struct{}

func (base) Stop() error { return nil }

// Report wraps the QuickReport script.
type Report struct{ base }

func (Report) Kind() process.Kind { return process.KindReport }
func (Report) BinaryKey() string  { return config.KeyReportBin }

func (Report) Prelaunch(runfolder string, p Params) error {
	if p.SisyphusConfig == nil {
		return nil
	}
	if err := ValidateYAML(*p.SisyphusConfig); err != nil {
		return err
	}
	return WriteConfigFile(filepath.Join(runfolder, SisyphusConfigFile), *p.SisyphusConfig)
}

// QC wraps the QualityControl script. A QC rules document is required.
type QC struct{ base }

func (QC) Kind() process.Kind { return process.KindQC }
func (QC) BinaryKey() string  { return config.KeyQCBin }

func (QC) Prelaunch(runfolder string, p Params) error {
	if p.QCConfig == nil {
		return fmt.Errorf("%w: qc_config is required", ErrEmptyConfig)
	}
	if err := ValidateXML(*p.QCConfig); err != nil {
		return err
	}
	if p.SisyphusConfig == nil {
		return WriteConfigFile(filepath.Join(runfolder, QCConfigFile), *p.QCConfig)
	}
	if err := ValidateYAML(*p.SisyphusConfig); err != nil {
		return err
	}
	undo, err := writeConfigFile(filepath.Join(runfolder, SisyphusConfigFile), *p.SisyphusConfig)
	if err != nil {
		return err
	}
	if err := WriteConfigFile(filepath.Join(runfolder, QCConfigFile), *p.QCConfig); err != nil {
		if uerr := undo(); uerr != nil {
			slog.Warn("restoring sisyphus config failed", "runfolder", runfolder, "error", uerr)
		}
		return err
	}
	return nil
}

// isSafeName accepts a single path segment below the runfolder root: no
// separators, no NUL, and not "." or "..".
func isSafeName(s string) bool {
	if s == "" || s == "." || strings.Contains(s, "..") {
		return false
	}
	return !strings.ContainsAny(s, "/\\\x00")
}
