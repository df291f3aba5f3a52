// Package bootstrap builds the chip, driver host and examples runner from the
// loaded configuration.
package bootstrap

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/andrei-cloud/go_optiga/internal/chip"
	"github.com/andrei-cloud/go_optiga/internal/config"
	"github.com/andrei-cloud/go_optiga/internal/console"
	"github.com/andrei-cloud/go_optiga/internal/datastore"
	"github.com/andrei-cloud/go_optiga/internal/examples"
	"github.com/andrei-cloud/go_optiga/pkg/optiga"
)

// Device modes.
const (
	ModeLocal  = "local"
	ModeRemote = "remote"
)

// Env is everything a command needs to run examples.
type Env struct {
	Chip   *chip.Chip // nil when the device is remote
	Store  *datastore.File
	Host   *optiga.Host
	Runner *examples.Runner

	persist bool
}

// NewChip returns a software chip configured by cfg. With chip.image set the
// objects saved in store are restored.
func NewChip(cfg *config.Config, store *datastore.File) (*chip.Chip, error) {
	c, err := chip.New(chip.WithSecurityDecay(cfg.Chip.SecDecay))
	if err != nil {
		return nil, fmt.Errorf("create chip: %w", err)
	}
	if !cfg.Chip.Image {
		return c, nil
	}
	if img, ok := store.ChipImage(); ok {
		if err := c.Restore(img); err != nil {
			return nil, fmt.Errorf("restore chip image from %s: %w", store.Path(), err)
		}
		log.Info().Str("event", "chip_restored").Str("path", store.Path()).Msg("chip image restored")
	}

	return c, nil
}

// New opens the datastore, connects the device and returns a runner logging to out.
func New(cfg *config.Config, out io.Writer) (*Env, error) {
	store, err := datastore.Open(cfg.Datastore.Path)
	if err != nil {
		return nil, err
	}

	env := &Env{Store: store}
	var transport optiga.Transport
	switch strings.ToLower(cfg.Device.Mode) {
	case "", ModeLocal:
		if env.Chip, err = NewChip(cfg, store); err != nil {
			return nil, err
		}
		env.persist = cfg.Chip.Image
		transport = optiga.NewLocal(env.Chip)
	case ModeRemote:
		if transport, err = optiga.DialRemote(cfg.Device.Address, cfg.Driver.Timeout); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown device mode %q", cfg.Device.Mode)
	}

	env.Host = optiga.NewHost(transport,
		optiga.WithSecretStore(store),
		optiga.WithTimeout(cfg.Driver.Timeout),
	)
	env.Runner = examples.NewRunner(env.Host, console.New(out),
		examples.WithExclusiveInit(cfg.Examples.ExclusiveInit),
		examples.WithTimeout(cfg.Driver.Timeout),
	)
	log.Debug().
		Str("event", "bootstrap").
		Str("mode", cfg.Device.Mode).
		Str("datastore", store.Path()).
		Bool("exclusive_init", cfg.Examples.ExclusiveInit).
		Msg("environment ready")

	return env, nil
}

// Close saves the chip image when configured and closes the host.
func (e *Env) Close() error {
	var errs []error
	if e.persist && e.Chip != nil {
		img, err := e.Chip.Snapshot()
		if err == nil {
			err = e.Store.SaveChipImage(img)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("save chip image: %w", err))
		}
	}
	if e.Host != nil {
		if err := e.Host.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
