package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/pvmux/pvmux-go/pkg/backend"
	"github.com/pvmux/pvmux-go/pkg/catalogue"
	"github.com/pvmux/pvmux-go/pkg/fault"
	"github.com/pvmux/pvmux-go/pkg/version"
)

// readRegister reads a register once and formats every element as text.
func readRegister(ctx context.Context, b *backend.Backend, path string) ([]string, version.Token, error) {
	acc, err := backend.GetAccessor[string](b, path, 0, 0, 0)
	if err != nil {
		return nil, version.Token{}, err
	}
	defer acc.Close()
	return acc.Read(ctx)
}

// writeRegister parses args for the register's data type and writes them
// starting at offset.
func writeRegister(ctx context.Context, b *backend.Backend, path string, offset int, args []string) error {
	info, err := b.Catalogue().Get(path)
	if err != nil {
		return err
	}

	var ok bool
	if info.Descriptor.Fundamental == catalogue.FundamentalString {
		acc, err := backend.GetAccessor[string](b, path, len(args), offset, 0)
		if err != nil {
			return err
		}
		defer acc.Close()
		ok, err = acc.Write(ctx, args)
		if err != nil {
			return err
		}
	} else {
		xs := make([]float64, len(args))
		for i, a := range args {
			if xs[i], err = strconv.ParseFloat(a, 64); err != nil {
				return fmt.Errorf("value %q: %w", a, err)
			}
		}
		acc, err := backend.GetAccessor[float64](b, path, len(xs), offset, 0)
		if err != nil {
			return err
		}
		defer acc.Close()
		ok, err = acc.Write(ctx, xs)
		if err != nil {
			return err
		}
	}
	if !ok {
		return fmt.Errorf("write to %s was not acknowledged", path)
	}
	return nil
}

// monitorRegister prints every update of path until ctx is done. Errors
// raised while the backend recovers are reported and the monitor resumes
// once it is functional again.
func monitorRegister(ctx context.Context, b *backend.Backend, path string, out io.Writer) error {
	acc, err := backend.GetAccessor[string](b, path, 0, 0, catalogue.Modes(catalogue.AccessWaitForNewData))
	if err != nil {
		return err
	}
	defer acc.Close()

	for {
		xs, tok, err := acc.Read(ctx)
		switch {
		case err == nil:
			fmt.Fprintf(out, "%s %s %s\n", tok.Time().Format(time.RFC3339Nano), path, strings.Join(xs, " "))
			continue
		case ctx.Err() != nil:
			return nil
		case fault.IsLogic(err) && !errors.Is(err, backend.ErrNotOpen):
			return err
		}
		fmt.Fprintf(out, "%s %s <%v>\n", time.Now().Format(time.RFC3339Nano), path, err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func printCatalogue(out io.Writer, b *backend.Backend) {
	fmt.Fprintln(out, b.DeviceInfo())
	fmt.Fprintf(out, "session %s\n\n", b.SessionID())

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PATH\tCHANNEL\tTYPE\tELEMENTS\tACCESS\tDATA")
	for info := range b.Catalogue().All() {
		if !info.Configured {
			fmt.Fprintf(w, "%s\t%s\t-\t-\t-\tnot configured\n", info.Path, info.Channel)
			continue
		}
		data := info.Descriptor.Fundamental.String()
		if info.Descriptor.Integral {
			data += " (integral)"
		}
		if !info.Usable {
			data = "unsupported"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			info.Path, info.Channel, info.Type, info.Elements, accessString(info), data)
	}
	_ = w.Flush()
}

func accessString(info catalogue.RegisterInfo) string {
	switch {
	case info.Readable && info.Writable:
		return "rw"
	case info.Readable:
		return "r"
	case info.Writable:
		return "w"
	default:
		return "-"
	}
}
