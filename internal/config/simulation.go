package config

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/pvmux/pvmux-go/pkg/ca"
	"github.com/pvmux/pvmux-go/pkg/ca/sim"
	"github.com/pvmux/pvmux-go/pkg/convert"
)

// NewServer builds a simulated IOC serving the configured process
// variables.
func (s *SimulationConfig) NewServer() (*sim.Server, error) {
	srv := sim.New()
	for _, pv := range s.PVs {
		t, err := ca.ParseFieldType(pv.Type)
		if err != nil {
			_ = srv.Close()
			return nil, fmt.Errorf("simulation pv %s: %w", pv.Name, err)
		}
		vs, err := pv.values(t)
		if err != nil {
			_ = srv.Close()
			return nil, err
		}
		opts := []sim.PVOption{sim.Values(vs...)}
		if pv.ReadOnly {
			opts = append(opts, sim.ReadOnly())
		}
		if err := srv.AddPV(pv.Name, t, pv.Count, opts...); err != nil {
			_ = srv.Close()
			return nil, err
		}
	}
	return srv, nil
}

func (pv *PVConfig) values(t ca.FieldType) ([]convert.Value, error) {
	vs := make([]convert.Value, 0, len(pv.Values))
	for _, raw := range pv.Values {
		if t == ca.FieldString {
			vs = append(vs, convert.OfString(raw))
			continue
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("simulation pv %s: value %q: %w", pv.Name, raw, err)
		}
		vs = append(vs, convert.OfFloat(f))
	}
	return vs, nil
}

// Animate increments every element of each numeric process variable with a
// non-zero update_ms at that period. It returns when ctx is done.
func (s *SimulationConfig) Animate(ctx context.Context, srv *sim.Server, logger *slog.Logger) {
	var wg sync.WaitGroup
	for _, pv := range s.PVs {
		if pv.UpdateMS <= 0 || pv.Type == "string" {
			continue
		}
		wg.Add(1)
		go func(name string, period time.Duration) {
			defer wg.Done()
			ticker := time.NewTicker(period)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
				if err := Step(srv, name); err != nil {
					logger.Warn("simulation update failed", "channel", name, "error", err)
				}
			}
		}(pv.Name, ms(pv.UpdateMS))
	}
	wg.Wait()
}

// Step adds one to every element of the named process variable.
func Step(srv *sim.Server, name string) error {
	v, ok := srv.Value(name)
	if !ok {
		return fmt.Errorf("unknown process variable %s", name)
	}
	c, err := convert.CodecFor(v.Type)
	if err != nil {
		return err
	}
	next := make([]convert.Value, v.Count)
	for i := range next {
		next[i] = convert.OfFloat(c.Get(v.Value, i).Float() + 1)
	}
	return srv.Set(name, time.Time{}, next...)
}
