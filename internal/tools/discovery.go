package tools

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Registration is one compiled-in tool offered to Discover.
type Registration struct {
	Descriptor Descriptor
	New        Constructor
}

// Skipped records a registration Discover refused.
type Skipped struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// DiscoveryReport summarizes one Discover pass.
type DiscoveryReport struct {
	Registered []string  `json:"registered"`
	Skipped    []Skipped `json:"skipped,omitempty"`
}

// Discover registers every usable registration into reg. Each constructor is
// called once up front; a registration whose constructor panics, returns nil, or yields a
// tool without a name is logged and skipped. Discover never fails as a whole.
func Discover(reg *Registry, regs []Registration, logger *zap.Logger) DiscoveryReport {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("discovery")

	var report DiscoveryReport
	for _, r := range regs {
		desc, err := trial(r)
		if err == nil {
			err = reg.Register(desc, r.New)
		}
		if err != nil {
			label := r.Descriptor.Name
			if label == "" {
				label = "<unnamed>"
			}
			logger.Warn("skipping tool", zap.String("tool", label), zap.Error(err))
			report.Skipped = append(report.Skipped, Skipped{Name: label, Reason: err.Error()})
			continue
		}
		report.Registered = append(report.Registered, desc.Name)
	}

	logger.Info("tools registered",
		zap.Int("registered", len(report.Registered)),
		zap.Int("skipped", len(report.Skipped)),
	)
	return report
}

// trial instantiates the tool once and returns the descriptor it will be
// registered under, filling blanks from the tool itself.
func trial(r Registration) (desc Descriptor, err error) {
	if r.New == nil {
		return desc, fmt.Errorf("%w: nil constructor", ErrInvalidRegistration)
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: constructor panicked: %v", ErrInvalidRegistration, p)
		}
	}()

	t := r.New()
	if t == nil {
		return desc, fmt.Errorf("%w: constructor returned nil", ErrInvalidRegistration)
	}
	desc = r.Descriptor
	desc.Name = strings.TrimSpace(desc.Name)
	if desc.Name == "" {
		desc.Name = strings.TrimSpace(t.Name())
	}
	if desc.Name == "" {
		return desc, fmt.Errorf("%w: tool has no name", ErrInvalidRegistration)
	}
	if desc.Description == "" {
		desc.Description = t.Description()
	}
	return desc, nil
}
