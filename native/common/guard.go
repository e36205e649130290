package common

import (
	"errors"
	"strings"
)

var ErrModulePaused = errors.New("module paused")

// ModuleAllowance is the pause key for the allowance program.
const ModuleAllowance = "allowance"

// ModuleTransfer is the pause key for native transfers.
const ModuleTransfer = "transfer"

type PauseView interface {
	IsPaused(module string) bool
}

// StaticPauses is a PauseView backed by a fixed set of module names.
type StaticPauses map[string]bool

func (p StaticPauses) IsPaused(module string) bool {
	return p[strings.ToLower(strings.TrimSpace(module))]
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
