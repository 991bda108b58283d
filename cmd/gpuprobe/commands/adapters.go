package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/gogpu/gpuprobe/backend"
	"github.com/gogpu/gpuprobe/backend/webgpu"
	"github.com/gogpu/gpuprobe/gpucore"
	"github.com/gogpu/gputypes"
	"github.com/spf13/cobra"
)

func (a *app) newAdaptersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "adapters",
		Short: "List the adapters wgpu selects for each power preference",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			infos, err := listAdapters(cmd)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tTYPE\tBACKEND\tDRIVER\tSELECTED BY")
			for _, e := range infos {
				fmt.Fprintf(w, "%s\t%v\t%v\t%s\t%s\n",
					e.info.Name, e.info.DeviceType, e.info.Backend, e.info.Driver, e.selectedBy)
			}
			return w.Flush()
		},
	}
}

type adapterEntry struct {
	info       gpucore.AdapterInfo
	selectedBy string
}

// listAdapters asks wgpu for an adapter under each power preference and
// for the fallback adapter, dropping duplicates.
func listAdapters(cmd *cobra.Command) ([]adapterEntry, error) {
	queries := []struct {
		name string
		opts backend.Options
	}{
		{"default", backend.Options{}},
		{"low-power", backend.Options{PowerPreference: gputypes.PowerPreferenceLowPower}},
		{"high-performance", backend.Options{PowerPreference: gputypes.PowerPreferenceHighPerformance}},
		{"fallback", backend.Options{ForceFallback: true}},
	}

	var (
		entries []adapterEntry
		lastErr error
	)
	seen := make(map[string]int)
	for _, q := range queries {
		info, err := webgpu.Adapter(cmd.Context(), q.opts)
		if err != nil {
			lastErr = err
			continue
		}
		key := info.Name + "\x00" + info.Backend.String() + "\x00" + info.Driver
		if i, ok := seen[key]; ok {
			entries[i].selectedBy += ", " + q.name
			continue
		}
		seen[key] = len(entries)
		entries = append(entries, adapterEntry{info: info, selectedBy: q.name})
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("no adapters: %w", lastErr)
	}
	return entries, nil
}
