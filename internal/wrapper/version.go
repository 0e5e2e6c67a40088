package wrapper

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/loykin/siswrap/internal/config"
	"github.com/loykin/siswrap/internal/process"
)

// SisyphusVersion asks the Sisyphus version script which release is installed.
// Unlike job launches this waits for the command, bounded by timeout.
func SisyphusVersion(ctx context.Context, s process.Settings, timeout time.Duration) (string, error) {
	perl, err := s.Setting(process.KeyPerl)
	if err != nil {
		return "", err
	}
	bin, err := s.Setting(config.KeyVersionBin)
	if err != nil {
		return "", err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	// #nosec G204 -- both paths come from configuration
	out, err := exec.CommandContext(ctx, perl, bin).Output()
	if err != nil {
		return "", fmt.Errorf("sisyphus version: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}
