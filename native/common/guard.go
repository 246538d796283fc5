package common

import (
	"errors"
	"strings"
	"sync"
)

// Module names recognised by the pause guard.
const (
	ModuleCredit = "credit"
	ModuleYield  = "yield"
	ModuleBank   = "bank"
)

var ErrModulePaused = errors.New("module paused")

type PauseView interface {
	IsPaused(module string) bool
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

// Pauses is an in-memory PauseView toggled by operators.
type Pauses struct {
	mu      sync.RWMutex
	modules map[string]bool
}

// NewPauses returns a PauseView with every module running.
func NewPauses() *Pauses {
	return &Pauses{modules: make(map[string]bool)}
}

// Set pauses or resumes the named module.
func (p *Pauses) Set(module string, paused bool) {
	if p == nil {
		return
	}
	module = strings.ToLower(strings.TrimSpace(module))
	if module == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if paused {
		p.modules[module] = true
		return
	}
	delete(p.modules, module)
}

func (p *Pauses) IsPaused(module string) bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.modules[strings.ToLower(module)]
}
